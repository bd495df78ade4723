package api

import (
	"encoding/json"
	"time"

	"simwatch/internal/store"
)

// ListSimulationsQuery is bound from the query string of GET /simulations.
type ListSimulationsQuery struct {
	Centre     string `form:"centre"`
	Experiment string `form:"experiment"`
	Model      string `form:"model"`
	Running    *bool  `form:"running"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

func (q ListSimulationsQuery) filter() store.SimulationFilter {
	return store.SimulationFilter{
		Centre:     q.Centre,
		Experiment: q.Experiment,
		Model:      q.Model,
		Running:    q.Running,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
}

type ListAlertsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// SimulationStatus is derived from the simulation's terminal flags.
type SimulationStatus string

const (
	StatusRunning  SimulationStatus = "running"
	StatusComplete SimulationStatus = "complete"
	StatusError    SimulationStatus = "error"
)

type SimulationResponse struct {
	store.Simulation
	Status SimulationStatus `json:"status"`
}

func newSimulationResponse(s store.Simulation) SimulationResponse {
	status := StatusRunning
	switch {
	case s.IsError:
		status = StatusError
	case s.ExecutionEnd != nil:
		status = StatusComplete
	}
	return SimulationResponse{Simulation: s, Status: status}
}

type SimulationListResponse struct {
	Items  []SimulationResponse `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

type JobListResponse struct {
	SimulationUID string      `json:"simulation_uid"`
	Items         []store.Job `json:"items"`
}

type AlertResponse struct {
	ID            int64           `json:"id"`
	MessageUID    string          `json:"message_uid"`
	Trigger       string          `json:"trigger"`
	SimulationUID string          `json:"simulation_uid,omitempty"`
	JobUID        string          `json:"job_uid,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func newAlertResponse(a store.Alert) AlertResponse {
	out := AlertResponse{
		ID:            a.ID,
		MessageUID:    a.MessageUID,
		Trigger:       a.Trigger,
		SimulationUID: a.SimulationUID,
		JobUID:        a.JobUID,
		CreatedAt:     a.CreatedAt,
	}
	if json.Valid(a.Payload) {
		out.Payload = json.RawMessage(a.Payload)
	}
	return out
}

type AgentResponse struct {
	Name        string   `json:"name"`
	Queue       string   `json:"queue"`
	Description string   `json:"description"`
	Types       []string `json:"types"`
}
