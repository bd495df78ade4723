package mq

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header names written on every published message.
const (
	HeaderTimestamp       = "timestamp"
	HeaderTimestampRaw    = "timestamp_raw"
	HeaderProducerID      = "producer_id"
	HeaderProducerVersion = "producer_version"
	HeaderCorrelationID1  = "correlation_id_1"
	HeaderCorrelationID2  = "correlation_id_2"
	HeaderCorrelationID3  = "correlation_id_3"
	HeaderDelay           = "x-delay"
	HeaderError           = "x-simwatch-error"
)

// TimestampLayout is the canonical UTC ISO-8601 form, microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

const (
	ProducerLibIGCM    = "libigcm"
	ProducerSimwatch   = "simwatch"
	ProducerSupervisor = "supervisor"

	UserLibIGCM  = "libigcm"
	UserSimwatch = "simwatch"

	ContentTypeJSON = "application/json"

	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"

	DeliveryTransient  uint8 = 1
	DeliveryPersistent uint8 = 2

	MaxPriority uint8 = 9
)

var (
	allowedProducers = []string{ProducerLibIGCM, ProducerSimwatch, ProducerSupervisor}
	allowedUsers     = []string{UserLibIGCM, UserSimwatch}
	allowedTypes     = []string{ContentTypeJSON}
	allowedEncodings = []string{EncodingUTF8, EncodingBase64}
)

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// PropertiesConfig is the mutable input to NewProperties.
type PropertiesConfig struct {
	Type            Type
	MessageID       string
	AppID           string
	UserID          string
	ProducerID      string
	ProducerVersion string
	CorrelationIDs  []string
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	Timestamp       time.Time
	Headers         map[string]interface{}
}

// Properties is the immutable set of AMQP properties and headers attached
// to a message.
type Properties struct {
	typ             Type
	messageID       string
	appID           string
	userID          string
	producerID      string
	producerVersion string
	correlationIDs  [3]string
	contentType     string
	contentEncoding string
	deliveryMode    uint8
	priority        uint8
	timestamp       time.Time
	headers         map[string]interface{}
}

// NewProperties validates cfg against the allow-lists, fills defaults and
// stamps the canonical headers. Existing headers are never overwritten.
func NewProperties(cfg PropertiesConfig) (Properties, error) {
	if !cfg.Type.Valid() {
		return Properties{}, &ValidationError{Field: "type", Value: string(cfg.Type), Allowed: typeStrings()}
	}
	if !contains(allowedProducers, cfg.ProducerID) {
		return Properties{}, &ValidationError{Field: "producer_id", Value: cfg.ProducerID, Allowed: allowedProducers}
	}
	if cfg.UserID != "" && !contains(allowedUsers, cfg.UserID) {
		return Properties{}, &ValidationError{Field: "user_id", Value: cfg.UserID, Allowed: allowedUsers}
	}
	if cfg.ContentType == "" {
		cfg.ContentType = ContentTypeJSON
	}
	if !contains(allowedTypes, cfg.ContentType) {
		return Properties{}, &ValidationError{Field: "content_type", Value: cfg.ContentType, Allowed: allowedTypes}
	}
	if cfg.ContentEncoding == "" {
		cfg.ContentEncoding = EncodingUTF8
	}
	if !contains(allowedEncodings, cfg.ContentEncoding) {
		return Properties{}, &ValidationError{Field: "content_encoding", Value: cfg.ContentEncoding, Allowed: allowedEncodings}
	}
	if cfg.DeliveryMode == 0 {
		cfg.DeliveryMode = DeliveryPersistent
	}
	if cfg.DeliveryMode != DeliveryTransient && cfg.DeliveryMode != DeliveryPersistent {
		return Properties{}, &ValidationError{Field: "delivery_mode", Value: strconv.Itoa(int(cfg.DeliveryMode)), Allowed: []string{"1", "2"}}
	}
	if cfg.Priority > MaxPriority {
		return Properties{}, &ValidationError{Field: "priority", Value: strconv.Itoa(int(cfg.Priority)), Allowed: []string{"0-9"}}
	}
	if len(cfg.CorrelationIDs) > 3 {
		return Properties{}, &ValidationError{Field: "correlation_ids", Value: fmt.Sprint(cfg.CorrelationIDs)}
	}
	if cfg.MessageID == "" {
		cfg.MessageID = uuid.NewString()
	} else if _, err := uuid.Parse(cfg.MessageID); err != nil {
		return Properties{}, &ValidationError{Field: "message_id", Value: cfg.MessageID}
	}
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = time.Now()
	}
	cfg.Timestamp = cfg.Timestamp.UTC()

	p := RawProperties(cfg)

	setDefault := func(key string, value interface{}) {
		if _, ok := p.headers[key]; !ok {
			p.headers[key] = value
		}
	}
	setDefault(HeaderTimestamp, FormatTimestamp(cfg.Timestamp))
	setDefault(HeaderTimestampRaw, strconv.FormatInt(cfg.Timestamp.UnixNano(), 10))
	setDefault(HeaderProducerID, cfg.ProducerID)
	if cfg.ProducerVersion != "" {
		setDefault(HeaderProducerVersion, cfg.ProducerVersion)
	}
	for i, id := range p.correlationIDs {
		if id != "" {
			setDefault(correlationHeader(i), id)
		}
	}

	return p, nil
}

// RawProperties copies cfg without validation. It is used for deliveries
// received from the broker, whose properties were set by other producers.
func RawProperties(cfg PropertiesConfig) Properties {
	p := Properties{
		typ:             cfg.Type,
		messageID:       cfg.MessageID,
		appID:           cfg.AppID,
		userID:          cfg.UserID,
		producerID:      cfg.ProducerID,
		producerVersion: cfg.ProducerVersion,
		contentType:     cfg.ContentType,
		contentEncoding: cfg.ContentEncoding,
		deliveryMode:    cfg.DeliveryMode,
		priority:        cfg.Priority,
		timestamp:       cfg.Timestamp,
		headers:         make(map[string]interface{}, len(cfg.Headers)+6),
	}
	copy(p.correlationIDs[:], cfg.CorrelationIDs)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	if p.producerID == "" {
		p.producerID = headerString(p.headers, HeaderProducerID)
	}
	if p.producerVersion == "" {
		p.producerVersion = headerString(p.headers, HeaderProducerVersion)
	}
	for i := range p.correlationIDs {
		if p.correlationIDs[i] == "" {
			p.correlationIDs[i] = headerString(p.headers, correlationHeader(i))
		}
	}
	return p
}

func correlationHeader(i int) string {
	switch i {
	case 0:
		return HeaderCorrelationID1
	case 1:
		return HeaderCorrelationID2
	default:
		return HeaderCorrelationID3
	}
}

func headerString(h map[string]interface{}, key string) string {
	switch v := h[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Properties) Type() Type               { return p.typ }
func (p Properties) MessageID() string        { return p.messageID }
func (p Properties) AppID() string            { return p.appID }
func (p Properties) UserID() string           { return p.userID }
func (p Properties) ProducerID() string       { return p.producerID }
func (p Properties) ProducerVersion() string  { return p.producerVersion }
func (p Properties) ContentType() string      { return p.contentType }
func (p Properties) ContentEncoding() string  { return p.contentEncoding }
func (p Properties) DeliveryMode() uint8      { return p.deliveryMode }
func (p Properties) Priority() uint8          { return p.priority }
func (p Properties) Timestamp() time.Time     { return p.timestamp }
func (p Properties) CorrelationIDs() []string { return append([]string(nil), p.correlationIDs[:]...) }

// CorrelationID returns correlation id n (1-based), or "".
func (p Properties) CorrelationID(n int) string {
	if n < 1 || n > 3 {
		return ""
	}
	return p.correlationIDs[n-1]
}

// Headers returns a copy of the message headers.
func (p Properties) Headers() map[string]interface{} {
	out := make(map[string]interface{}, len(p.headers))
	for k, v := range p.headers {
		out[k] = v
	}
	return out
}

// Header returns a single header value.
func (p Properties) Header(key string) (interface{}, bool) {
	v, ok := p.headers[key]
	return v, ok
}

// Delay returns the x-delay header in milliseconds, or 0.
func (p Properties) Delay() int64 {
	switch v := p.headers[HeaderDelay].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// SentAt prefers the timestamp_raw header, then timestamp, then the AMQP
// timestamp property.
func (p Properties) SentAt() time.Time {
	if raw := headerString(p.headers, HeaderTimestampRaw); raw != "" {
		if ns, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(0, ns).UTC()
		}
	}
	if ts := headerString(p.headers, HeaderTimestamp); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			return t
		}
	}
	return p.timestamp
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the canonical layout and plain RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
