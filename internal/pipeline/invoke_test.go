package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simwatch/internal/logger"
	pkgerrors "simwatch/pkg/errors"
)

type testState struct {
	ran     []string
	aborted bool
	errs    []error
}

func (s *testState) Aborted() bool { return s.aborted }

func step(name string, fn func(*testState) error) Task[*testState] {
	return Task[*testState]{Name: name, Run: func(_ context.Context, s *testState) error {
		s.ran = append(s.ran, name)
		if fn != nil {
			return fn(s)
		}
		return nil
	}}
}

func recordErr(name string) ErrorTask[*testState] {
	return ErrorTask[*testState]{Name: name, Run: func(_ context.Context, s *testState, err error) {
		s.ran = append(s.ran, name)
		s.errs = append(s.errs, err)
	}}
}

func TestInvoke(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		tasks      []Task[*testState]
		wantStatus Status
		wantTask   string
		wantRan    []string
		wantErr    error
	}{
		{
			name:       "all tasks complete",
			tasks:      []Task[*testState]{step("a", nil), step("b", nil), step("c", nil)},
			wantStatus: StatusCompleted,
			wantTask:   "c",
			wantRan:    []string{"a", "b", "c"},
		},
		{
			name: "abort stops without error tasks",
			tasks: []Task[*testState]{
				step("a", nil),
				step("b", func(s *testState) error { s.aborted = true; return nil }),
				step("c", nil),
			},
			wantStatus: StatusAborted,
			wantTask:   "b",
			wantRan:    []string{"a", "b"},
		},
		{
			name:       "failure runs error tasks in order",
			tasks:      []Task[*testState]{step("a", nil), step("b", func(*testState) error { return boom }), step("c", nil)},
			wantStatus: StatusFailed,
			wantTask:   "b",
			wantRan:    []string{"a", "b", "on-error-1", "on-error-2"},
			wantErr:    boom,
		},
		{
			name:       "empty pipeline",
			wantStatus: StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &testState{}
			res := Invoke(context.Background(), logger.NopLogger(), "test", tt.tasks,
				[]ErrorTask[*testState]{recordErr("on-error-1"), recordErr("on-error-2")}, s)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantTask, res.Task)
			assert.Equal(t, tt.wantRan, s.ran)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
				require.Len(t, s.errs, 2)
				assert.ErrorIs(t, s.errs[0], tt.wantErr)
			} else {
				assert.NoError(t, res.Err)
				assert.Empty(t, s.errs)
			}
		})
	}
}

func TestInvoke_TaskPanic(t *testing.T) {
	s := &testState{}
	tasks := []Task[*testState]{step("a", func(*testState) error { panic("kaboom") }), step("b", nil)}

	res := Invoke(context.Background(), logger.NopLogger(), "test", tasks, []ErrorTask[*testState]{recordErr("cleanup")}, s)

	assert.True(t, res.Failed())
	assert.True(t, pkgerrors.IsPanic(res.Err))
	assert.Equal(t, []string{"a", "cleanup"}, s.ran)
}

func TestInvoke_ErrorTaskPanicIsSwallowed(t *testing.T) {
	s := &testState{}
	boom := errors.New("boom")
	panicky := ErrorTask[*testState]{Name: "panicky", Run: func(context.Context, *testState, error) { panic("again") }}

	require.NotPanics(t, func() {
		res := Invoke(context.Background(), logger.NopLogger(), "test",
			Single(step("a", func(*testState) error { return boom })),
			[]ErrorTask[*testState]{panicky, recordErr("after")}, s)
		assert.ErrorIs(t, res.Err, boom)
	})
	assert.Equal(t, []string{"a", "after"}, s.ran)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "completed", StatusCompleted.String())
	assert.Equal(t, "aborted", StatusAborted.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "status(7)", Status(7).String())
}
