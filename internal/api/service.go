// Package api serves the read-only monitoring API over the relational store.
package api

import (
	"context"

	"simwatch/internal/agent"
	"simwatch/internal/constants"
	"simwatch/internal/store"
)

type Service interface {
	ListSimulations(ctx context.Context, q ListSimulationsQuery) (*SimulationListResponse, error)
	GetSimulation(ctx context.Context, uid string) (*SimulationResponse, error)
	ListJobs(ctx context.Context, simulationUID string) (*JobListResponse, error)
	ListAlerts(ctx context.Context, limit int) ([]AlertResponse, error)
	ListAgents(ctx context.Context) []AgentResponse
}

// StoreProvider hands out non-transactional repositories.
type StoreProvider interface {
	Stores() store.Stores
}

type service struct {
	db StoreProvider
}

func NewService(db StoreProvider) Service {
	return &service{db: db}
}

func (s *service) ListSimulations(ctx context.Context, q ListSimulationsQuery) (*SimulationListResponse, error) {
	f := q.filter()
	if f.Limit <= 0 {
		f.Limit = constants.DefaultLimit
	}

	sims, err := s.db.Stores().Simulations().List(ctx, f)
	if err != nil {
		return nil, err
	}

	items := make([]SimulationResponse, 0, len(sims))
	for _, sim := range sims {
		items = append(items, newSimulationResponse(sim))
	}
	return &SimulationListResponse{Items: items, Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *service) GetSimulation(ctx context.Context, uid string) (*SimulationResponse, error) {
	sim, err := s.db.Stores().Simulations().Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := newSimulationResponse(*sim)
	return &out, nil
}

func (s *service) ListJobs(ctx context.Context, simulationUID string) (*JobListResponse, error) {
	stores := s.db.Stores()
	// 404 for an unknown simulation rather than an empty list.
	if _, err := stores.Simulations().Get(ctx, simulationUID); err != nil {
		return nil, err
	}

	jobs, err := stores.Jobs().ListBySimulation(ctx, simulationUID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []store.Job{}
	}
	return &JobListResponse{SimulationUID: simulationUID, Items: jobs}, nil
}

func (s *service) ListAlerts(ctx context.Context, limit int) ([]AlertResponse, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	alerts, err := s.db.Stores().Alerts().ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, newAlertResponse(a))
	}
	return out, nil
}

func (s *service) ListAgents(context.Context) []AgentResponse {
	defs := agent.Definitions()
	out := make([]AgentResponse, 0, len(defs))
	for _, d := range defs {
		types := d.Types()
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		out = append(out, AgentResponse{
			Name:        d.Name,
			Queue:       d.Queue.String(),
			Description: d.Description,
			Types:       names,
		})
	}
	return out
}
