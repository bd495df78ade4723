package broker

import (
	"sync"

	"simwatch/internal/logger"
	"simwatch/pkg/metrics"
)

// State is the lifecycle position of a consumer.
//
//	Disconnected -> Connecting -> Connected -> ChannelOpen -> QueueBound -> Consuming
//	                    ^                                                      |
//	                    |          (any active state) -> ConnectionLost        |
//	               Reconnecting <--------------------------'                   |
//	                                                                           v
//	                                     (any active state) -> Cancelling -> Closed
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateChannelOpen
	StateQueueBound
	StateConsuming
	StateCancelling
	StateClosed
	StateConnectionLost
	StateReconnecting
)

var stateNames = [...]string{
	"disconnected",
	"connecting",
	"connected",
	"channel_open",
	"queue_bound",
	"consuming",
	"cancelling",
	"closed",
	"connection_lost",
	"reconnecting",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ValidTransition reports whether from -> to is a legal consumer state change.
func ValidTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting || to == StateCancelling
	case StateConnecting:
		return to == StateConnected || to == StateConnectionLost || to == StateCancelling
	case StateConnected:
		return to == StateChannelOpen || to == StateConnectionLost || to == StateCancelling
	case StateChannelOpen:
		return to == StateQueueBound || to == StateConnectionLost || to == StateCancelling
	case StateQueueBound:
		return to == StateConsuming || to == StateConnectionLost || to == StateCancelling
	case StateConsuming:
		return to == StateConnectionLost || to == StateCancelling
	case StateConnectionLost:
		return to == StateReconnecting || to == StateCancelling
	case StateReconnecting:
		return to == StateConnecting || to == StateCancelling
	case StateCancelling:
		return to == StateClosed
	case StateClosed:
		return false
	}
	return false
}

type stateMachine struct {
	mu     sync.RWMutex
	agent  string
	state  State
	logger logger.Logger
}

func newStateMachine(agent string, log logger.Logger) *stateMachine {
	metrics.SetConsumerState(agent, int(StateDisconnected))
	return &stateMachine{agent: agent, logger: log}
}

func (m *stateMachine) get() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// set moves to the target state. An illegal move is logged, refused and
// reported false; the current state is left untouched.
func (m *stateMachine) set(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == to {
		return true
	}
	if !ValidTransition(m.state, to) {
		m.logger.Warnw("Refused illegal consumer state transition",
			"agent", m.agent,
			"from", m.state.String(),
			"to", to.String(),
		)
		return false
	}
	m.state = to
	metrics.SetConsumerState(m.agent, int(to))
	return true
}
