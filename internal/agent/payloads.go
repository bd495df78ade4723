package agent

import (
	"sort"
	"strings"
	"time"

	"simwatch/internal/vocabulary"
	pkgerrors "simwatch/pkg/errors"
)

// JobStartPayload is sent by the compute job wrapper (1000) and the
// post-processing wrapper (2000).
type JobStartPayload struct {
	JobUID            string `json:"jobuid"`
	SimulationUID     string `json:"simuid"`
	JobName           string `json:"job_name,omitempty"`
	SimulationName    string `json:"simulation_name,omitempty"`
	Centre            string `json:"centre"`
	Machine           string `json:"machine"`
	Login             string `json:"login"`
	Experiment        string `json:"experiment"`
	Model             string `json:"model"`
	Space             string `json:"space"`
	AccountingProject string `json:"accounting_project,omitempty"`
	TryID             int    `json:"try_id,omitempty"`
	// WarningDelay is in seconds.
	WarningDelay int64  `json:"job_warning_delay,omitempty"`
	StartDate    string `json:"execution_start_date,omitempty"`
}

func (p *JobStartPayload) validate() error {
	return required(map[string]string{"jobuid": p.JobUID, "simuid": p.SimulationUID})
}

type JobEndPayload struct {
	JobUID          string `json:"jobuid"`
	SimulationUID   string `json:"simuid"`
	IsSimulationEnd bool   `json:"is_simulation_end,omitempty"`
	EndDate         string `json:"execution_end_date,omitempty"`
	PeriodStart     string `json:"period_date_start,omitempty"`
	PeriodEnd       string `json:"period_date_end,omitempty"`
}

func (p *JobEndPayload) validate() error {
	return required(map[string]string{"jobuid": p.JobUID, "simuid": p.SimulationUID})
}

type JobErrorPayload struct {
	JobUID        string `json:"jobuid"`
	SimulationUID string `json:"simuid"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ErrorDate     string `json:"execution_end_date,omitempty"`
}

func (p *JobErrorPayload) validate() error {
	return required(map[string]string{"jobuid": p.JobUID, "simuid": p.SimulationUID})
}

// LateCheckPayload is the delayed message a job start schedules.
type LateCheckPayload struct {
	JobUID        string `json:"jobuid"`
	SimulationUID string `json:"simuid"`
}

func (p *LateCheckPayload) validate() error {
	return required(map[string]string{"jobuid": p.JobUID, "simuid": p.SimulationUID})
}

// ConsoPayload carries a base64 encoded centre report.
type ConsoPayload struct {
	Filename   string `json:"filename,omitempty"`
	Attachment string `json:"attachment"`
}

func (p *ConsoPayload) validate() error {
	return required(map[string]string{"attachment": p.Attachment})
}

type AlertPayload struct {
	Trigger       string                 `json:"trigger"`
	SimulationUID string                 `json:"simuid,omitempty"`
	JobUID        string                 `json:"jobuid,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

func (p *AlertPayload) validate() error {
	return required(map[string]string{"trigger": p.Trigger})
}

type CVPayload struct {
	Drafts []vocabulary.Draft `json:"drafts"`
}

// required reports every empty field in one validation error.
func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return pkgerrors.ErrValidation.WithMessage("missing required fields: %s", strings.Join(missing, ", "))
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

// parseDate reads an optional payload date. Empty strings yield nil.
func parseDate(field, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, pkgerrors.ErrValidation.WithMessage("invalid %s %q", field, v)
}
