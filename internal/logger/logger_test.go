package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"simwatch/pkg/logging"
)

func TestSugaredLogger_ContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core)).(*SugaredLogger)
	l.SetServiceName("simwatch-mq")

	ctx := logging.WithMessageID(context.Background(), "abc")
	ctx = logging.WithAgent(ctx, "conso")
	l.WarnwCtx(ctx, "duplicate message", "uid", "abc")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "abc", fields["message_id"])
	assert.Equal(t, "conso", fields["agent"])
	assert.Equal(t, "simwatch-mq", fields["service_name"])
	assert.Equal(t, "abc", fields["uid"])
}

func TestSugaredLogger_Named(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewFromZap(zap.New(core)).Named("broker")

	l.Infow("connected")
	l.Debugw("dropped")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "broker", logs.All()[0].LoggerName)
}

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "", "bogus"} {
		l, err := New(level, "json")
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}
}
