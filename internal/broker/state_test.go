package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"simwatch/internal/logger"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"connect", StateDisconnected, StateConnecting, true},
		{"open channel", StateConnected, StateChannelOpen, true},
		{"bind", StateChannelOpen, StateQueueBound, true},
		{"consume", StateQueueBound, StateConsuming, true},
		{"lose connection while consuming", StateConsuming, StateConnectionLost, true},
		{"reconnect", StateConnectionLost, StateReconnecting, true},
		{"reconnect loops to connecting", StateReconnecting, StateConnecting, true},
		{"cancel while consuming", StateConsuming, StateCancelling, true},
		{"cancel while reconnecting", StateReconnecting, StateCancelling, true},
		{"cancel completes", StateCancelling, StateClosed, true},
		{"skip channel", StateConnected, StateQueueBound, false},
		{"consume without bind", StateChannelOpen, StateConsuming, false},
		{"closed is terminal", StateClosed, StateConnecting, false},
		{"cancelling cannot resume", StateCancelling, StateConsuming, false},
		{"disconnected cannot lose connection", StateDisconnected, StateConnectionLost, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}

func TestStateMachine_RefusesIllegalMove(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := newStateMachine("test", logger.NewFromZap(zap.New(core)))

	assert.True(t, m.set(StateConnecting))
	assert.False(t, m.set(StateConsuming))
	assert.Equal(t, StateConnecting, m.get())
	assert.True(t, m.set(StateConnecting), "same state is a no-op")

	refused := logs.FilterMessage("Refused illegal consumer state transition").All()
	require.Len(t, refused, 1)
	assert.Equal(t, zapcore.WarnLevel, refused[0].Level)
	fields := refused[0].ContextMap()
	assert.Equal(t, "test", fields["agent"])
	assert.Equal(t, "connecting", fields["from"])
	assert.Equal(t, "consuming", fields["to"])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "queue_bound", StateQueueBound.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
