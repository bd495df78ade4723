package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"simwatch/internal/conso"
	"simwatch/internal/constants"
	"simwatch/internal/pipeline"
	"simwatch/internal/store"
	"simwatch/pkg/cel"
	pkgerrors "simwatch/pkg/errors"
)

// consumption records centre consumption reports against allocations.
type consumption struct {
	deps *Deps
}

type consoState struct {
	*Context
	payload    ConsoPayload
	raw        []byte
	report     *conso.Report
	allocation *store.Allocation
	created    bool
}

func (cs *consumption) report(ctx context.Context, c *Context) pipeline.Result {
	tasks := []pipeline.Task[*consoState]{
		{Name: "decode", Run: decodeConso},
		{Name: "parse-report", Run: cs.parseReport},
		{Name: "resolve-allocation", Run: resolveAllocation},
		{Name: "record-consumption", Run: recordConsumption},
		{Name: "evaluate-rules", Run: cs.evaluateRules},
	}
	errTasks := []pipeline.ErrorTask[*consoState]{
		{Name: "report-failure", Run: func(ctx context.Context, s *consoState, err error) {
			s.Logger.WarnwCtx(ctx, "conso report rejected", "filename", s.payload.Filename, "error", err)
		}},
	}
	return pipeline.Invoke(ctx, c.Logger, c.Agent, tasks, errTasks, &consoState{Context: c})
}

// decodeConso extracts the raw report bytes. The attachment is kept
// untouched until the parser sees it.
func decodeConso(_ context.Context, s *consoState) error {
	if err := decode(s.Context, &s.payload); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace([]byte(s.payload.Attachment))))
	if err != nil {
		return pkgerrors.ErrDecode.WithMessage("conso attachment is not valid base64").WithCause(err)
	}
	s.raw = raw
	return nil
}

func (cs *consumption) parseReport(_ context.Context, s *consoState) error {
	report, err := cs.deps.ConsoParser.Parse(s.raw)
	if err != nil {
		return err
	}
	s.report = report
	return nil
}

// resolveAllocation finds the allocation the report is booked on. Unknown
// allocations are created provisionally and reported to operators.
func resolveAllocation(ctx context.Context, s *consoState) error {
	r := s.report
	key := store.AllocationKey{Centre: r.Centre, Project: r.Project, Machine: r.Machine, NodeType: r.NodeType}

	alloc, err := s.Stores.Allocations().Find(ctx, key)
	if err == nil {
		s.allocation = alloc
		return nil
	}
	if !pkgerrors.IsNotFound(err) {
		return fmt.Errorf("find allocation: %w", err)
	}

	start := r.AllocationStart
	if start.IsZero() {
		start = r.Date
	}
	end := r.AllocationEnd
	if end.IsZero() {
		end = start.AddDate(1, 0, 0)
	}
	alloc = &store.Allocation{
		Centre:      r.Centre,
		Project:     r.Project,
		Machine:     r.Machine,
		NodeType:    r.NodeType,
		StartDate:   start,
		EndDate:     end,
		Hours:       r.AllocatedHours,
		Provisional: true,
	}
	if err := s.Stores.Allocations().Insert(ctx, alloc); err != nil {
		return fmt.Errorf("create provisional allocation: %w", err)
	}
	s.allocation = alloc
	s.created = true

	s.Logger.WarnwCtx(ctx, "provisional allocation created",
		"centre", r.Centre,
		"project", r.Project,
		"machine", r.Machine,
		"node_type", r.NodeType,
	)
	return raise(ctx, s.Context, AlertPayload{
		Trigger: constants.AlertConsoNewAlloc,
		Message: fmt.Sprintf("no allocation for project %s on %s/%s", r.Project, r.Centre, r.Machine),
		Details: map[string]interface{}{
			"centre":        r.Centre,
			"project":       r.Project,
			"machine":       r.Machine,
			"node_type":     r.NodeType,
			"allocation_id": alloc.ID,
		},
	})
}

func recordConsumption(ctx context.Context, s *consoState) error {
	for _, e := range s.report.Entries {
		c := &store.Consumption{
			AllocationID: s.allocation.ID,
			Date:         s.report.Date,
			Login:        e.Login,
			SubProject:   e.SubProject,
			Hours:        e.Hours,
		}
		if err := s.Stores.Consumptions().Upsert(ctx, c); err != nil {
			return fmt.Errorf("record consumption of %s: %w", e.Login, err)
		}
	}
	return nil
}

// evaluateRules raises one conso-threshold alert per matching rule and
// login. Rule runtime errors are logged and do not fail the report.
func (cs *consumption) evaluateRules(ctx context.Context, s *consoState) error {
	if cs.deps.ConsoRules.Len() == 0 {
		return nil
	}

	total, err := s.Stores.Consumptions().TotalHours(ctx, s.allocation.ID)
	if err != nil {
		return fmt.Errorf("total consumption: %w", err)
	}

	a := s.allocation
	for _, e := range s.report.Entries {
		facts := cel.Facts{
			Centre:      a.Centre,
			Project:     a.Project,
			Machine:     a.Machine,
			NodeType:    a.NodeType,
			Login:       e.Login,
			SubProject:  e.SubProject,
			Provisional: a.Provisional,
			Allocated:   a.Hours,
			Consumed:    total,
			DayHours:    e.Hours,
		}
		matched, err := cs.deps.ConsoRules.Matching(ctx, facts)
		if err != nil {
			s.Logger.ErrorwCtx(ctx, "conso rule evaluation failed", "login", e.Login, "error", err)
		}
		for _, rule := range matched {
			if err := raise(ctx, s.Context, AlertPayload{
				Trigger: constants.AlertConsoThreshold,
				Message: fmt.Sprintf("rule %s matched for %s on project %s", rule, e.Login, a.Project),
				Details: map[string]interface{}{
					"rule":          rule,
					"login":         e.Login,
					"allocation_id": a.ID,
					"allocated":     a.Hours,
					"consumed":      total,
				},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
