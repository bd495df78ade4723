package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectBackoff_ExactWaits(t *testing.T) {
	b := ReconnectBackoff(200*time.Millisecond, time.Second)

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
}

func TestReconnectBackoff_FixedDelay(t *testing.T) {
	b := ReconnectBackoff(200*time.Millisecond, 200*time.Millisecond)
	for i := 0; i < 20; i++ {
		require.Equal(t, 200*time.Millisecond, b.NextBackOff(), "wait %d", i)
	}

	// A max below initial is raised to initial.
	b = ReconnectBackoff(time.Second, time.Millisecond)
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestDo(t *testing.T) {
	errBoom := errors.New("boom")
	policy := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, Multiplier: 2}

	tests := []struct {
		name         string
		failures     int
		fatal        bool
		wantAttempts int
		wantDelays   []time.Duration
		wantErr      bool
	}{
		{name: "first try", failures: 0, wantAttempts: 1},
		{name: "succeeds on retry", failures: 2, wantAttempts: 3, wantDelays: []time.Duration{time.Millisecond, 2 * time.Millisecond}},
		{name: "runs out of attempts", failures: 5, wantAttempts: 3, wantDelays: []time.Duration{time.Millisecond, 2 * time.Millisecond}, wantErr: true},
		{name: "fatal stops at once", failures: 5, fatal: true, wantAttempts: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			var delays []time.Duration
			err := Do(context.Background(), policy, func() error {
				attempts++
				if attempts > tt.failures {
					return nil
				}
				if tt.fatal {
					return NewFatalError(errBoom)
				}
				return errBoom
			}, func(attempt int, err error, next time.Duration) {
				assert.Equal(t, attempts, attempt)
				delays = append(delays, next)
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantDelays, delays)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBoom)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, Policy{MaxAttempts: 5, InitialInterval: time.Hour}, func() error {
		attempts++
		return errors.New("boom")
	}, nil)
	assert.Error(t, err)
	assert.LessOrEqual(t, attempts, 1)
}

func TestNewFatalError_Nil(t *testing.T) {
	assert.Nil(t, NewFatalError(nil))
}
