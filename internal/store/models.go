package store

import (
	"time"

	"simwatch/internal/constants"
)

// Message is the canonical record of every delivered message. UID is
// unique; a second insert of the same UID is how duplicates are detected.
type Message struct {
	UID             string
	TypeID          string
	ProducerID      string
	ProducerVersion string
	UserID          string
	AppID           string
	ContentEncoding string
	ContentType     string
	Content         []byte
	CorrelationID1  string
	CorrelationID2  string
	CorrelationID3  string
	Timestamp       time.Time
	TimestampRaw    int64
	ContentPurged   bool
	CreatedAt       time.Time
}

type Simulation struct {
	ID                int64      `json:"-"`
	UID               string     `json:"uid"`
	HashID            string     `json:"hashid"`
	Name              string     `json:"name"`
	ComputeCentre     string     `json:"compute_centre"`
	ComputeMachine    string     `json:"compute_machine"`
	ComputeLogin      string     `json:"compute_login"`
	Experiment        string     `json:"experiment"`
	Model             string     `json:"model"`
	Space             string     `json:"space"`
	AccountingProject string     `json:"accounting_project,omitempty"`
	TryID             int        `json:"try_id"`
	ExecutionStart    *time.Time `json:"execution_start_date,omitempty"`
	ExecutionEnd      *time.Time `json:"execution_end_date,omitempty"`
	IsError           bool       `json:"is_error"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Job kinds.
const (
	JobTypeCompute        = "computing"
	JobTypePostProcessing = "post-processing"
)

type Job struct {
	ID             int64      `json:"-"`
	UID            string     `json:"job_uid"`
	SimulationUID  string     `json:"simulation_uid"`
	Type           string     `json:"typeof"`
	Name           string     `json:"name,omitempty"`
	ExecutionStart *time.Time `json:"execution_start_date,omitempty"`
	ExecutionEnd   *time.Time `json:"execution_end_date,omitempty"`
	WarningDelay   int64      `json:"job_warning_delay"`
	IsLate         bool       `json:"is_late"`
	IsError        bool       `json:"is_error"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Finished reports whether the job has reached a terminal state.
func (j *Job) Finished() bool {
	return j.ExecutionEnd != nil || j.IsError
}

// ExpectedEnd is the instant after which a running job counts as late.
func (j *Job) ExpectedEnd() time.Time {
	start := j.CreatedAt
	if j.ExecutionStart != nil {
		start = *j.ExecutionStart
	}
	return start.Add(time.Duration(j.WarningDelay) * time.Second)
}

// JobPeriod is the simulated-time window covered by one job.
type JobPeriod struct {
	ID          int64     `json:"-"`
	JobUID      string    `json:"job_uid"`
	PeriodStart time.Time `json:"period_date_start"`
	PeriodEnd   time.Time `json:"period_date_end"`
}

// Supervision dispatch states.
const (
	DispatchQueued     = "queued"
	DispatchDispatched = "dispatched"
)

type Supervision struct {
	ID            int64     `json:"id"`
	SimulationUID string    `json:"simulation_uid"`
	JobUID        string    `json:"job_uid"`
	Trigger       string    `json:"trigger"`
	DispatchState string    `json:"dispatch_state"`
	CreatedAt     time.Time `json:"created_at"`
}

// AllocationKey identifies an allocation within a centre.
type AllocationKey struct {
	Centre   string
	Project  string
	Machine  string
	NodeType string
}

type Allocation struct {
	ID          int64     `json:"id"`
	Centre      string    `json:"centre"`
	Project     string    `json:"project"`
	Machine     string    `json:"machine"`
	NodeType    string    `json:"node_type"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Hours       float64   `json:"hours"`
	Provisional bool      `json:"provisional"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Allocation) Key() AllocationKey {
	return AllocationKey{Centre: a.Centre, Project: a.Project, Machine: a.Machine, NodeType: a.NodeType}
}

type Consumption struct {
	ID           int64     `json:"id"`
	AllocationID int64     `json:"allocation_id"`
	Date         time.Time `json:"date"`
	Login        string    `json:"login"`
	SubProject   string    `json:"sub_project,omitempty"`
	Hours        float64   `json:"hours"`
	CreatedAt    time.Time `json:"created_at"`
}

type Alert struct {
	ID            int64     `json:"id"`
	MessageUID    string    `json:"message_uid"`
	Trigger       string    `json:"trigger"`
	SimulationUID string    `json:"simulation_uid,omitempty"`
	JobUID        string    `json:"job_uid,omitempty"`
	Payload       []byte    `json:"payload,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SimulationFilter narrows ListSimulations.
type SimulationFilter struct {
	Centre     string
	Experiment string
	Model      string
	Running    *bool
	Limit      int
	Offset     int
}

func (f SimulationFilter) normalize() SimulationFilter {
	if f.Limit <= 0 {
		f.Limit = constants.DefaultLimit
	}
	if f.Limit > constants.MaxLimit {
		f.Limit = constants.MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
