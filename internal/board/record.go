// Package board holds the indicator value model and the display-ready matrix
// built from it.
package board

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidEdit = errors.New("invalid edit")

type Status string

const (
	StatusNone         Status = ""
	StatusOnTrack      Status = "on-track"
	StatusResolving    Status = "resolving"
	StatusInProgress   Status = "in-progress"
	StatusInTraining   Status = "in-training"
	StatusOffTrack     Status = "off-track"
	StatusSeriousIssue Status = "serious-issue"
)

var statuses = []Status{
	StatusNone,
	StatusOnTrack,
	StatusResolving,
	StatusInProgress,
	StatusInTraining,
	StatusOffTrack,
	StatusSeriousIssue,
}

// Statuses returns the accepted status values in display order.
func Statuses() []Status {
	return slices.Clone(statuses)
}

// Label is the human-readable name of a status.
func (s Status) Label() string {
	switch s {
	case StatusNone:
		return "Status needed"
	case StatusOnTrack:
		return "On Track"
	case StatusResolving:
		return "Resolving"
	case StatusInProgress:
		return "In Progress"
	case StatusInTraining:
		return "In Training"
	case StatusOffTrack:
		return "Off Track"
	case StatusSeriousIssue:
		return "Serious Issue"
	default:
		return string(s)
	}
}

func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !slices.Contains(statuses, status) {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidEdit, value)
	}
	return status, nil
}

// Field names one editable column of a record.
type Field string

const (
	FieldTarget  Field = "target"
	FieldActual  Field = "actual"
	FieldStatus  Field = "status"
	FieldActions Field = "actions"
)

// ValidateEdit rejects edits that ApplyFieldEdit could not represent. It runs
// before the optimistic update so that the update itself never fails.
func ValidateEdit(field Field, value string) error {
	switch field {
	case FieldTarget, FieldActual, FieldActions:
		return nil
	case FieldStatus:
		_, err := ParseStatus(value)
		return err
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidEdit, field)
	}
}

// Record is one indicator row. Explanation comes from the catalogue and is
// never written to the store.
type Record struct {
	Category    string `json:"category"`
	KPIName     string `json:"kpiName"`
	Target      string `json:"target"`
	Actual      string `json:"actual"`
	Status      Status `json:"status"`
	Actions     string `json:"actions"`
	Explanation string `json:"explanation,omitempty"`
}

// RecordKey is the natural key of a record within one scope.
type RecordKey struct {
	Category string
	KPIName  string
}

func (r Record) Key() RecordKey {
	return RecordKey{Category: r.Category, KPIName: r.KPIName}
}

// With returns r with one field replaced. Unknown fields leave r unchanged.
func (r Record) With(field Field, value string) Record {
	switch field {
	case FieldTarget:
		r.Target = value
	case FieldActual:
		r.Actual = value
	case FieldStatus:
		r.Status = Status(value)
	case FieldActions:
		r.Actions = value
	}
	return r
}

// Metadata is the per-meeting record shared by every branch.
type Metadata struct {
	Facilitator string   `json:"facilitator"`
	ReadingList []string `json:"readingList"`
}

func (m Metadata) Clone() Metadata {
	m.ReadingList = slices.Clone(m.ReadingList)
	if m.ReadingList == nil {
		m.ReadingList = []string{}
	}
	return m
}
