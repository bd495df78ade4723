// Package mq holds the message vocabulary shared by every agent: routing
// types, exchanges, queues, message properties and the envelope wrapping a
// received delivery.
package mq

import (
	"fmt"
	"sort"

	pkgerrors "simwatch/pkg/errors"
)

// Type is the routing code carried in the AMQP "type" property.
type Type string

const (
	TypeJobStart            Type = "1000"
	TypeJobEnd              Type = "1100"
	TypeJobError            Type = "1999"
	TypePostProcessingStart Type = "2000"
	TypePostProcessingEnd   Type = "2100"
	TypePostProcessingError Type = "2999"
	TypeConsoReport         Type = "7000"
	TypeLateJobCheck        Type = "7100"
	TypeAlert               Type = "8000"
	TypeCVUpdate            Type = "8100"
	TypeFrontEnd            Type = "8200"
)

// Exchange names an AMQP exchange (a Kafka topic when running on Kafka).
type Exchange string

const (
	ExchangeMonitoring Exchange = "x-simwatch-monitoring"
	ExchangeInternal   Exchange = "x-simwatch-internal"
	ExchangeDelayed    Exchange = "x-simwatch-delayed"
	ExchangeDeadLetter Exchange = "x-simwatch-dead-letter"
)

// Queue names a consumer queue.
type Queue string

const (
	QueueMonitoring  Queue = "q-monitoring"
	QueueConso       Queue = "q-conso"
	QueueSupervision Queue = "q-supervision"
	QueueAlert       Queue = "q-alert"
	QueueCV          Queue = "q-cv"
	QueueFrontEnd    Queue = "q-fe"
	QueueDeadLetter  Queue = "q-dead-letter"
)

type ExchangeKind string

const (
	KindTopic   ExchangeKind = "topic"
	KindFanout  ExchangeKind = "fanout"
	KindDelayed ExchangeKind = "x-delayed-message"
)

type typeInfo struct {
	exchange    Exchange
	queue       Queue
	description string
}

var types = map[Type]typeInfo{
	TypeJobStart:            {ExchangeMonitoring, QueueMonitoring, "compute job start"},
	TypeJobEnd:              {ExchangeMonitoring, QueueMonitoring, "compute job end"},
	TypeJobError:            {ExchangeMonitoring, QueueMonitoring, "compute job error"},
	TypePostProcessingStart: {ExchangeMonitoring, QueueMonitoring, "post-processing job start"},
	TypePostProcessingEnd:   {ExchangeMonitoring, QueueMonitoring, "post-processing job end"},
	TypePostProcessingError: {ExchangeMonitoring, QueueMonitoring, "post-processing job error"},
	TypeConsoReport:         {ExchangeMonitoring, QueueConso, "resource consumption report"},
	TypeLateJobCheck:        {ExchangeDelayed, QueueSupervision, "late job check"},
	TypeAlert:               {ExchangeInternal, QueueAlert, "operator alert"},
	TypeCVUpdate:            {ExchangeInternal, QueueCV, "controlled vocabulary drafts"},
	TypeFrontEnd:            {ExchangeInternal, QueueFrontEnd, "front end notification"},
}

var exchanges = map[Exchange]ExchangeKind{
	ExchangeMonitoring: KindTopic,
	ExchangeInternal:   KindTopic,
	ExchangeDelayed:    KindDelayed,
	ExchangeDeadLetter: KindFanout,
}

func (t Type) String() string { return string(t) }

// Valid reports whether t is part of the routing table.
func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

// Exchange returns the exchange t is routed through, or "" for unknown types.
func (t Type) Exchange() Exchange { return types[t].exchange }

// Queue returns the queue bound to t, or "" for unknown types.
func (t Type) Queue() Queue { return types[t].queue }

func (t Type) Description() string { return types[t].description }

// RoutingKey is the key used when publishing and binding.
func (t Type) RoutingKey() string { return string(t) }

// ParseType validates a raw type code.
func ParseType(raw string) (Type, error) {
	t := Type(raw)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Value: raw, Allowed: typeStrings()}
	}
	return t, nil
}

// Types returns every known type in ascending code order.
func Types() []Type {
	out := make([]Type, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func typeStrings() []string {
	all := Types()
	out := make([]string, len(all))
	for i, t := range all {
		out[i] = string(t)
	}
	return out
}

func (e Exchange) String() string { return string(e) }

func (e Exchange) Valid() bool {
	_, ok := exchanges[e]
	return ok
}

func (e Exchange) Kind() ExchangeKind { return exchanges[e] }

// Exchanges returns every declared exchange, sorted by name.
func Exchanges() []Exchange {
	out := make([]Exchange, 0, len(exchanges))
	for e := range exchanges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (q Queue) String() string { return string(q) }

func (q Queue) Valid() bool {
	if q == QueueDeadLetter {
		return true
	}
	for _, info := range types {
		if info.queue == q {
			return true
		}
	}
	return false
}

// Binding ties a queue to an exchange under one routing key.
type Binding struct {
	Exchange   Exchange
	RoutingKey string
}

// Bindings lists the bindings a queue needs, ordered by type code.
func (q Queue) Bindings() []Binding {
	if q == QueueDeadLetter {
		return []Binding{{Exchange: ExchangeDeadLetter, RoutingKey: "#"}}
	}
	var out []Binding
	for _, t := range Types() {
		if types[t].queue == q {
			out = append(out, Binding{Exchange: types[t].exchange, RoutingKey: t.RoutingKey()})
		}
	}
	return out
}

// Types returns the message types delivered to q.
func (q Queue) Types() []Type {
	var out []Type
	for _, t := range Types() {
		if types[t].queue == q {
			out = append(out, t)
		}
	}
	return out
}

// Accepts reports whether q is bound to t.
func (q Queue) Accepts(t Type) bool {
	return t.Valid() && types[t].queue == q
}

// ValidationError reports a property outside its allow-list.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid message %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid message %s %q (allowed: %v)", e.Field, e.Value, e.Allowed)
}

func (e *ValidationError) Unwrap() error {
	return pkgerrors.ErrValidation
}
