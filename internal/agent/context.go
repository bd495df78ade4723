// Package agent routes decoded deliveries to per-type task pipelines and
// runs each one inside a single database transaction.
package agent

import (
	"time"

	"simwatch/internal/logger"
	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// Clock is the time source handlers decide with.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Context is the state shared by every handler for one delivery. It is
// created by the boundary and discarded once the pipeline has finished.
type Context struct {
	Agent    string
	Envelope *mq.Envelope
	Record   *store.Message
	Stores   store.Stores
	Sender   mq.Sender
	// Now is read from the clock once, before the pipeline starts.
	Now    time.Time
	Logger logger.Logger

	aborted bool
	reason  string
}

// Abort ends the pipeline after the current task without an error. The
// transaction still commits.
func (c *Context) Abort(reason string) {
	c.aborted = true
	c.reason = reason
}

func (c *Context) Aborted() bool { return c.aborted }

func (c *Context) AbortReason() string { return c.reason }

// SentAt is the producer timestamp of the message, or Now when absent.
func (c *Context) SentAt() time.Time {
	if ts := c.Envelope.Properties().SentAt(); !ts.IsZero() {
		return ts.UTC()
	}
	return c.Now
}

// correlate tags follow-up messages with the simulation and job they
// concern.
func correlate(simulationUID, jobUID string) mq.EnqueueOption {
	return mq.WithCorrelationIDs(simulationUID, jobUID)
}
