// Package pipeline runs an ordered list of fallible tasks against a
// per-message state.
package pipeline

import (
	"context"
	"fmt"

	"simwatch/internal/logger"
	pkgerrors "simwatch/pkg/errors"
)

// State is implemented by every processing context a pipeline runs on.
type State interface {
	Aborted() bool
}

// Task is one step of a pipeline.
type Task[S State] struct {
	Name string
	Run  func(ctx context.Context, s S) error
}

// ErrorTask runs after a task has failed.
type ErrorTask[S State] struct {
	Name string
	Run  func(ctx context.Context, s S, err error)
}

// Single normalizes one task into a pipeline.
func Single[S State](t Task[S]) []Task[S] {
	return []Task[S]{t}
}

type Status int

const (
	StatusCompleted Status = iota
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result describes how a pipeline ended. Task is the last task that ran.
type Result struct {
	Status Status
	Task   string
	Err    error
}

func (r Result) Failed() bool { return r.Status == StatusFailed }

// Invoke runs tasks in order. It stops after the first task that leaves the
// state aborted, or at the first failure, in which case every error task
// runs with the failure. Panics in tasks count as failures, panics in error
// tasks are logged and swallowed. Invoke itself never panics.
func Invoke[S State](ctx context.Context, log logger.Logger, agentID string, tasks []Task[S], errorTasks []ErrorTask[S], state S) Result {
	var last string
	for _, task := range tasks {
		last = task.Name
		if err := runTask(ctx, task, state); err != nil {
			log.ErrorwCtx(ctx, "task failed",
				"agent_id", agentID,
				"task", task.Name,
				"error_type", fmt.Sprintf("%T", err),
				"error_code", pkgerrors.CodeOf(err),
				"error", err,
			)
			for _, et := range errorTasks {
				runErrorTask(ctx, log, agentID, et, state, err)
			}
			return Result{Status: StatusFailed, Task: task.Name, Err: err}
		}
		if state.Aborted() {
			log.DebugwCtx(ctx, "pipeline aborted", "agent_id", agentID, "task", task.Name)
			return Result{Status: StatusAborted, Task: task.Name}
		}
	}
	return Result{Status: StatusCompleted, Task: last}
}

func runTask[S State](ctx context.Context, task Task[S], state S) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()
	return task.Run(ctx, state)
}

func runErrorTask[S State](ctx context.Context, log logger.Logger, agentID string, et ErrorTask[S], state S, cause error) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorwCtx(ctx, "error task panicked",
				"agent_id", agentID,
				"task", et.Name,
				"error", pkgerrors.RecoverPanic(r),
			)
		}
	}()
	et.Run(ctx, state, cause)
}
