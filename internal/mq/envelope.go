package mq

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	pkgerrors "simwatch/pkg/errors"
)

// DecodeError reports a payload that could not be parsed.
type DecodeError struct {
	MessageID string
	Type      Type
	Cause     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %s (type %s): %v", e.MessageID, e.Type, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return pkgerrors.ErrDecode.WithCause(e.Cause)
}

// Envelope wraps one delivery. It is owned by a single goroutine for the
// lifetime of the delivery.
type Envelope struct {
	props       Properties
	body        []byte
	deliveryTag uint64

	decoded   map[string]interface{}
	decodeErr error
	decodeRan bool
}

func NewEnvelope(props Properties, body []byte, deliveryTag uint64) *Envelope {
	return &Envelope{props: props, body: body, deliveryTag: deliveryTag}
}

func (e *Envelope) Properties() Properties { return e.props }
func (e *Envelope) Type() Type             { return e.props.typ }

// UID is the message id, the global deduplication key.
func (e *Envelope) UID() string { return e.props.messageID }

// DeliveryTag is only meaningful to the consumer that received it.
func (e *Envelope) DeliveryTag() uint64 { return e.deliveryTag }

// Content returns the raw payload bytes, never the decoded form.
func (e *Envelope) Content() []byte { return e.body }

// Decoded reports whether Decode has run.
func (e *Envelope) Decoded() bool { return e.decodeRan }

// Decode parses the payload as a JSON object, base64-decoding it first when
// the content encoding says so. The result (or error) is memoized.
func (e *Envelope) Decode() (map[string]interface{}, error) {
	if e.decodeRan {
		return e.decoded, e.decodeErr
	}
	e.decodeRan = true
	e.decoded, e.decodeErr = e.decode()
	return e.decoded, e.decodeErr
}

func (e *Envelope) decode() (map[string]interface{}, error) {
	raw := e.body
	if e.props.contentEncoding == EncodingBase64 {
		buf := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(buf, bytes.TrimSpace(raw))
		if err != nil {
			return nil, &DecodeError{MessageID: e.UID(), Type: e.Type(), Cause: fmt.Errorf("base64: %w", err)}
		}
		raw = buf[:n]
	}

	out := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, &DecodeError{MessageID: e.UID(), Type: e.Type(), Cause: err}
	}
	// The payload is exactly one object.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after JSON object")
		}
		return nil, &DecodeError{MessageID: e.UID(), Type: e.Type(), Cause: err}
	}
	return out, nil
}

// DecodeInto decodes the payload into v through the decoded map.
func (e *Envelope) DecodeInto(v interface{}) error {
	m, err := e.Decode()
	if err != nil {
		return err
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return &DecodeError{MessageID: e.UID(), Type: e.Type(), Cause: err}
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return &DecodeError{MessageID: e.UID(), Type: e.Type(), Cause: err}
	}
	return nil
}

// Field reads name from the decoded content (when Decode has already run),
// then from the headers, and falls back to def. It never decodes and never
// fails.
func (e *Envelope) Field(name string, def interface{}) interface{} {
	if e.decodeRan && e.decoded != nil {
		if v, ok := e.decoded[name]; ok && v != nil {
			return v
		}
	}
	if v, ok := e.props.headers[name]; ok && v != nil {
		return v
	}
	return def
}

// StringField is Field for string values.
func (e *Envelope) StringField(name, def string) string {
	switch v := e.Field(name, nil).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}
