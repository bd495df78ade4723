// Package conso turns raw resource-consumption reports into typed records.
// The report format is centre specific; parsers are pluggable.
package conso

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerrors "simwatch/pkg/errors"
)

const dateLayout = "2006-01-02"

type Entry struct {
	Login      string  `json:"login"`
	SubProject string  `json:"sub_project"`
	Hours      float64 `json:"hours"`
}

type Report struct {
	Centre          string
	Project         string
	Machine         string
	NodeType        string
	Date            time.Time
	AllocationStart time.Time
	AllocationEnd   time.Time
	AllocatedHours  float64
	Entries         []Entry
}

// TotalHours sums every entry of the report.
func (r *Report) TotalHours() float64 {
	var total float64
	for _, e := range r.Entries {
		total += e.Hours
	}
	return total
}

type Parser interface {
	Parse(raw []byte) (*Report, error)
	Name() string
}

func NewParser(name string) (Parser, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONParser{}, nil
	default:
		return nil, pkgerrors.ErrConfig.WithMessage("unknown conso parser %q", name)
	}
}

// JSONParser reads the simwatch JSON report layout.
type JSONParser struct{}

func (JSONParser) Name() string { return "json" }

type jsonReport struct {
	Centre     string `json:"centre"`
	Project    string `json:"project"`
	Machine    string `json:"machine"`
	NodeType   string `json:"node_type"`
	Date       string `json:"date"`
	Allocation struct {
		Start string  `json:"start"`
		End   string  `json:"end"`
		Hours float64 `json:"hours"`
	} `json:"allocation"`
	Entries []Entry `json:"entries"`
}

func (JSONParser) Parse(raw []byte) (*Report, error) {
	var in jsonReport
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, pkgerrors.ErrDecode.WithMessage("invalid conso report").WithCause(err)
	}

	for field, v := range map[string]string{"centre": in.Centre, "project": in.Project, "machine": in.Machine, "date": in.Date} {
		if strings.TrimSpace(v) == "" {
			return nil, pkgerrors.ErrDecode.WithMessage("conso report: %s is required", field)
		}
	}

	r := &Report{
		Centre:         strings.ToLower(in.Centre),
		Project:        in.Project,
		Machine:        strings.ToLower(in.Machine),
		NodeType:       strings.ToLower(in.NodeType),
		AllocatedHours: in.Allocation.Hours,
		Entries:        in.Entries,
	}

	var err error
	if r.Date, err = parseDate("date", in.Date); err != nil {
		return nil, err
	}
	if in.Allocation.Start != "" {
		if r.AllocationStart, err = parseDate("allocation.start", in.Allocation.Start); err != nil {
			return nil, err
		}
	}
	if in.Allocation.End != "" {
		if r.AllocationEnd, err = parseDate("allocation.end", in.Allocation.End); err != nil {
			return nil, err
		}
	}
	for i, e := range r.Entries {
		if e.Login == "" {
			return nil, pkgerrors.ErrDecode.WithMessage("conso report: entries[%d].login is required", i)
		}
		if e.Hours < 0 {
			return nil, pkgerrors.ErrDecode.WithMessage("conso report: entries[%d].hours is negative", i)
		}
	}
	return r, nil
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, pkgerrors.ErrDecode.WithMessage("conso report: %s: %s", field, fmt.Sprint(err))
	}
	return t.UTC(), nil
}
