package agent

import (
	"context"
	"fmt"
	"time"

	"simwatch/internal/constants"
	"simwatch/internal/mq"
	"simwatch/internal/pipeline"
	"simwatch/internal/store"
	pkgerrors "simwatch/pkg/errors"
)

// supervision decides whether a job has overrun its warning delay.
type supervision struct {
	deps *Deps
}

type lateCheckState struct {
	*Context
	payload LateCheckPayload
	job     *store.Job
}

func (sv *supervision) lateCheck(ctx context.Context, c *Context) pipeline.Result {
	tasks := []pipeline.Task[*lateCheckState]{
		{Name: "decode", Run: func(_ context.Context, s *lateCheckState) error { return decode(s.Context, &s.payload) }},
		{Name: "load-job", Run: loadJob},
		{Name: "check-deadline", Run: checkDeadline},
		{Name: "flag-late", Run: flagLate},
		{Name: "raise-alert", Run: alertLate},
		{Name: "record-supervision", Run: recordSupervision},
		{Name: "notify-late", Run: notifyLate},
	}
	return pipeline.Invoke(ctx, c.Logger, c.Agent, tasks, nil, &lateCheckState{Context: c})
}

// loadJob aborts when there is nothing left to supervise.
func loadJob(ctx context.Context, s *lateCheckState) error {
	job, err := s.Stores.Jobs().Get(ctx, s.payload.JobUID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			s.Logger.WarnwCtx(ctx, "late check for unknown job", "jobuid", s.payload.JobUID)
			s.Abort("unknown job")
			return nil
		}
		return fmt.Errorf("load job %s: %w", s.payload.JobUID, err)
	}
	s.job = job

	switch {
	case job.Finished():
		s.Abort("job finished")
		return nil
	case job.IsLate:
		s.Abort("job already late")
		return nil
	}

	sim, err := s.Stores.Simulations().Get(ctx, job.SimulationUID)
	if err != nil {
		return fmt.Errorf("load simulation %s: %w", job.SimulationUID, err)
	}
	if sim.IsError {
		s.Abort("simulation in error")
	}
	return nil
}

// checkDeadline reschedules checks delivered before the deadline, which
// happens on transports that cannot hold a message back.
func checkDeadline(ctx context.Context, s *lateCheckState) error {
	deadline := s.job.ExpectedEnd()
	if !s.Now.Before(deadline) {
		return nil
	}

	remaining := deadline.Sub(s.Now)
	ms := remaining.Milliseconds()
	if remaining%time.Millisecond != 0 {
		ms++
	}
	s.Logger.DebugwCtx(ctx, "late check delivered early, rescheduling",
		"jobuid", s.job.UID,
		"remaining_ms", ms,
	)
	if err := s.Sender.Enqueue(ctx, mq.TypeLateJobCheck, s.payload,
		mq.WithDelay(ms),
		correlate(s.job.SimulationUID, s.job.UID),
	); err != nil {
		return err
	}
	s.Abort("rescheduled")
	return nil
}

func flagLate(ctx context.Context, s *lateCheckState) error {
	if err := s.Stores.Jobs().MarkLate(ctx, s.job.UID, s.Now); err != nil {
		return fmt.Errorf("flag job %s late: %w", s.job.UID, err)
	}
	s.Logger.WarnwCtx(ctx, "job is late",
		"jobuid", s.job.UID,
		"simuid", s.job.SimulationUID,
		"expected_end", s.job.ExpectedEnd(),
	)
	return nil
}

func alertLate(ctx context.Context, s *lateCheckState) error {
	return raise(ctx, s.Context, AlertPayload{
		Trigger:       constants.AlertJobLate,
		SimulationUID: s.job.SimulationUID,
		JobUID:        s.job.UID,
		Message:       fmt.Sprintf("job %s exceeded its warning delay of %ds", s.job.UID, s.job.WarningDelay),
		Details: map[string]interface{}{
			"expected_end":      s.job.ExpectedEnd().Format(time.RFC3339),
			"job_warning_delay": s.job.WarningDelay,
		},
	})
}

func recordSupervision(ctx context.Context, s *lateCheckState) error {
	return s.Stores.Supervisions().Insert(ctx, &store.Supervision{
		SimulationUID: s.job.SimulationUID,
		JobUID:        s.job.UID,
		Trigger:       constants.AlertJobLate,
		DispatchState: store.DispatchDispatched,
	})
}

func notifyLate(ctx context.Context, s *lateCheckState) error {
	return notify(ctx, s.Context, constants.FeedJobLate, s.job.SimulationUID, s.job.UID, nil)
}
