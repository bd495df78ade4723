package agent

import (
	"context"
	"fmt"
	"time"

	"simwatch/internal/constants"
	"simwatch/internal/feed"
	"simwatch/internal/mq"
	"simwatch/internal/pipeline"
	"simwatch/internal/store"
	"simwatch/internal/vocabulary"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/hashid"
)

// monitoring handles the job lifecycle messages of compute and
// post-processing jobs.
type monitoring struct {
	deps *Deps
}

type payloadValidator interface {
	validate() error
}

func decode(c *Context, v payloadValidator) error {
	if err := c.Envelope.DecodeInto(v); err != nil {
		return err
	}
	return v.validate()
}

func notify(ctx context.Context, c *Context, event, simulationUID, jobUID string, data map[string]interface{}) error {
	return c.Sender.Enqueue(ctx, mq.TypeFrontEnd, feed.Event{
		EventType:     event,
		SimulationUID: simulationUID,
		JobUID:        jobUID,
		Timestamp:     c.Now,
		Data:          data,
	}, correlate(simulationUID, jobUID))
}

func raise(ctx context.Context, c *Context, alert AlertPayload) error {
	return c.Sender.Enqueue(ctx, mq.TypeAlert, alert, correlate(alert.SimulationUID, alert.JobUID))
}

func jobType(t mq.Type) string {
	switch t {
	case mq.TypePostProcessingStart, mq.TypePostProcessingEnd, mq.TypePostProcessingError:
		return store.JobTypePostProcessing
	default:
		return store.JobTypeCompute
	}
}

type jobStartState struct {
	*Context
	payload    JobStartPayload
	start      time.Time
	simulation store.Simulation
	created    bool
	job        store.Job
	drafts     []vocabulary.Draft
}

func (m *monitoring) jobStart(ctx context.Context, c *Context) pipeline.Result {
	tasks := []pipeline.Task[*jobStartState]{
		{Name: "decode", Run: m.decodeJobStart},
		{Name: "normalize-terms", Run: m.normalizeTerms},
		{Name: "persist-simulation", Run: m.persistSimulation},
		{Name: "persist-job", Run: m.persistJob},
		{Name: "enqueue-drafts", Run: m.enqueueDrafts},
		{Name: "schedule-late-check", Run: m.scheduleLateCheck},
		{Name: "notify-start", Run: m.notifyStart},
	}
	errTasks := []pipeline.ErrorTask[*jobStartState]{
		{Name: "report-failure", Run: func(ctx context.Context, s *jobStartState, err error) {
			s.Logger.WarnwCtx(ctx, "job start not recorded",
				"jobuid", s.payload.JobUID,
				"simuid", s.payload.SimulationUID,
				"error", err,
			)
		}},
	}
	return pipeline.Invoke(ctx, c.Logger, c.Agent, tasks, errTasks, &jobStartState{Context: c})
}

func (m *monitoring) decodeJobStart(_ context.Context, s *jobStartState) error {
	if err := decode(s.Context, &s.payload); err != nil {
		return err
	}
	start, err := parseDate("execution_start_date", s.payload.StartDate)
	if err != nil {
		return err
	}
	if start != nil {
		s.start = *start
	} else {
		s.start = s.SentAt()
	}
	return nil
}

func (m *monitoring) normalizeTerms(_ context.Context, s *jobStartState) error {
	cache := m.deps.Vocabulary
	if cache == nil {
		return nil
	}
	p := &s.payload
	for _, f := range []struct {
		termType string
		value    *string
	}{
		{vocabulary.TypeComputeCentre, &p.Centre},
		{vocabulary.TypeComputeMachine, &p.Machine},
		{vocabulary.TypeExperiment, &p.Experiment},
		{vocabulary.TypeModel, &p.Model},
	} {
		name, draft := cache.Normalize(f.termType, *f.value)
		*f.value = name
		if draft != nil {
			s.drafts = append(s.drafts, *draft)
		}
	}
	return nil
}

func (m *monitoring) persistSimulation(ctx context.Context, s *jobStartState) error {
	p := s.payload
	name := p.SimulationName
	if name == "" {
		name = p.SimulationUID
	}
	start := s.start

	s.simulation = store.Simulation{
		UID:               p.SimulationUID,
		Name:              name,
		ComputeCentre:     p.Centre,
		ComputeMachine:    p.Machine,
		ComputeLogin:      p.Login,
		Experiment:        p.Experiment,
		Model:             p.Model,
		Space:             p.Space,
		AccountingProject: p.AccountingProject,
		TryID:             p.TryID,
		ExecutionStart:    &start,
	}
	s.simulation.HashID = hashid.Simulation(map[string]interface{}{
		"name":            name,
		"compute_centre":  p.Centre,
		"compute_machine": p.Machine,
		"compute_login":   p.Login,
		"experiment":      p.Experiment,
		"model":           p.Model,
		"space":           p.Space,
	})

	created, err := s.Stores.Simulations().Upsert(ctx, &s.simulation)
	if err != nil {
		return fmt.Errorf("upsert simulation %s: %w", p.SimulationUID, err)
	}
	s.created = created
	if created {
		s.Logger.InfowCtx(ctx, "simulation created", "simuid", p.SimulationUID, "hashid", s.simulation.HashID)
	}
	return nil
}

func (m *monitoring) persistJob(ctx context.Context, s *jobStartState) error {
	delay := s.payload.WarningDelay
	if delay <= 0 {
		delay = int64(m.deps.WarningDelay / time.Second)
	}
	start := s.start

	s.job = store.Job{
		UID:            s.payload.JobUID,
		SimulationUID:  s.payload.SimulationUID,
		Type:           jobType(s.Envelope.Type()),
		Name:           s.payload.JobName,
		ExecutionStart: &start,
		WarningDelay:   delay,
	}
	if _, err := s.Stores.Jobs().Upsert(ctx, &s.job); err != nil {
		return fmt.Errorf("upsert job %s: %w", s.payload.JobUID, err)
	}
	return nil
}

func (m *monitoring) enqueueDrafts(ctx context.Context, s *jobStartState) error {
	if len(s.drafts) == 0 {
		return nil
	}
	return s.Sender.Enqueue(ctx, mq.TypeCVUpdate, CVPayload{Drafts: s.drafts},
		correlate(s.payload.SimulationUID, s.payload.JobUID))
}

// scheduleLateCheck asks the delayed exchange to deliver a late check once
// the job's warning delay has elapsed.
func (m *monitoring) scheduleLateCheck(ctx context.Context, s *jobStartState) error {
	if s.job.WarningDelay <= 0 {
		return nil
	}
	remaining := s.job.ExpectedEnd().Sub(s.Now)
	if remaining < 0 {
		remaining = 0
	}
	return s.Sender.Enqueue(ctx, mq.TypeLateJobCheck,
		LateCheckPayload{JobUID: s.job.UID, SimulationUID: s.job.SimulationUID},
		mq.WithDelay(remaining.Milliseconds()),
		correlate(s.job.SimulationUID, s.job.UID),
	)
}

func (m *monitoring) notifyStart(ctx context.Context, s *jobStartState) error {
	event := constants.FeedJobStart
	if s.created {
		event = constants.FeedSimulationStart
	}
	return notify(ctx, s.Context, event, s.simulation.UID, s.job.UID, map[string]interface{}{
		"typeof": s.job.Type,
		"hashid": s.simulation.HashID,
	})
}

type jobEndState struct {
	*Context
	payload     JobEndPayload
	end         time.Time
	periodStart *time.Time
	periodEnd   *time.Time
}

func (m *monitoring) jobEnd(ctx context.Context, c *Context) pipeline.Result {
	tasks := []pipeline.Task[*jobEndState]{
		{Name: "decode", Run: decodeJobEnd},
		{Name: "close-job", Run: closeJob},
		{Name: "record-period", Run: recordPeriod},
		{Name: "close-simulation", Run: closeSimulation},
		{Name: "notify-end", Run: notifyEnd},
	}
	errTasks := []pipeline.ErrorTask[*jobEndState]{
		{Name: "report-failure", Run: func(ctx context.Context, s *jobEndState, err error) {
			s.Logger.WarnwCtx(ctx, "job end not recorded", "jobuid", s.payload.JobUID, "simuid", s.payload.SimulationUID, "error", err)
		}},
	}
	return pipeline.Invoke(ctx, c.Logger, c.Agent, tasks, errTasks, &jobEndState{Context: c})
}

func decodeJobEnd(_ context.Context, s *jobEndState) error {
	if err := decode(s.Context, &s.payload); err != nil {
		return err
	}
	end, err := parseDate("execution_end_date", s.payload.EndDate)
	if err != nil {
		return err
	}
	if end != nil {
		s.end = *end
	} else {
		s.end = s.SentAt()
	}
	if s.periodStart, err = parseDate("period_date_start", s.payload.PeriodStart); err != nil {
		return err
	}
	if s.periodEnd, err = parseDate("period_date_end", s.payload.PeriodEnd); err != nil {
		return err
	}
	return nil
}

func closeJob(ctx context.Context, s *jobEndState) error {
	if err := s.Stores.Jobs().MarkEnded(ctx, s.payload.JobUID, s.end); err != nil {
		return fmt.Errorf("close job %s: %w", s.payload.JobUID, err)
	}
	return nil
}

func recordPeriod(ctx context.Context, s *jobEndState) error {
	if s.periodStart == nil || s.periodEnd == nil {
		return nil
	}
	if s.periodEnd.Before(*s.periodStart) {
		return pkgerrors.ErrValidation.WithMessage("period of job %s ends before it starts", s.payload.JobUID)
	}
	return s.Stores.Jobs().AddPeriod(ctx, &store.JobPeriod{
		JobUID:      s.payload.JobUID,
		PeriodStart: *s.periodStart,
		PeriodEnd:   *s.periodEnd,
	})
}

func closeSimulation(ctx context.Context, s *jobEndState) error {
	if !s.payload.IsSimulationEnd {
		return nil
	}
	if err := s.Stores.Simulations().MarkEnded(ctx, s.payload.SimulationUID, s.end); err != nil {
		return fmt.Errorf("close simulation %s: %w", s.payload.SimulationUID, err)
	}
	s.Logger.InfowCtx(ctx, "simulation ended", "simuid", s.payload.SimulationUID)
	return nil
}

func notifyEnd(ctx context.Context, s *jobEndState) error {
	event := constants.FeedJobEnd
	if s.payload.IsSimulationEnd {
		event = constants.FeedSimulationEnd
	}
	return notify(ctx, s.Context, event, s.payload.SimulationUID, s.payload.JobUID, nil)
}

type jobErrorState struct {
	*Context
	payload JobErrorPayload
	at      time.Time
}

func (m *monitoring) jobError(ctx context.Context, c *Context) pipeline.Result {
	tasks := []pipeline.Task[*jobErrorState]{
		{Name: "decode", Run: decodeJobError},
		{Name: "flag-error", Run: flagError},
		{Name: "raise-alert", Run: alertJobError},
		{Name: "notify-error", Run: notifyJobError},
	}
	return pipeline.Invoke(ctx, c.Logger, c.Agent, tasks, nil, &jobErrorState{Context: c})
}

func decodeJobError(_ context.Context, s *jobErrorState) error {
	if err := decode(s.Context, &s.payload); err != nil {
		return err
	}
	at, err := parseDate("execution_end_date", s.payload.ErrorDate)
	if err != nil {
		return err
	}
	if at != nil {
		s.at = *at
	} else {
		s.at = s.SentAt()
	}
	return nil
}

// flagError marks the job and its simulation as failed. An unknown job is
// still alerted on: the error report is worth more than the missing row.
func flagError(ctx context.Context, s *jobErrorState) error {
	p := s.payload
	if err := s.Stores.Jobs().MarkError(ctx, p.JobUID, s.at); err != nil {
		if !pkgerrors.IsNotFound(err) {
			return fmt.Errorf("flag job %s: %w", p.JobUID, err)
		}
		s.Logger.WarnwCtx(ctx, "error reported for unknown job", "jobuid", p.JobUID)
	}
	if err := s.Stores.Simulations().MarkError(ctx, p.SimulationUID, s.at); err != nil {
		if !pkgerrors.IsNotFound(err) {
			return fmt.Errorf("flag simulation %s: %w", p.SimulationUID, err)
		}
		s.Logger.WarnwCtx(ctx, "error reported for unknown simulation", "simuid", p.SimulationUID)
	}
	return nil
}

func alertJobError(ctx context.Context, s *jobErrorState) error {
	trigger := constants.AlertJobError
	if jobType(s.Envelope.Type()) == store.JobTypePostProcessing {
		trigger = constants.AlertPostProcessingErr
	}
	return raise(ctx, s.Context, AlertPayload{
		Trigger:       trigger,
		SimulationUID: s.payload.SimulationUID,
		JobUID:        s.payload.JobUID,
		Message:       s.payload.ErrorMessage,
	})
}

func notifyJobError(ctx context.Context, s *jobErrorState) error {
	return notify(ctx, s.Context, constants.FeedJobError, s.payload.SimulationUID, s.payload.JobUID,
		map[string]interface{}{"error_message": s.payload.ErrorMessage})
}
