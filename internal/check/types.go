// Package check defines the core types shared across the link-validation
// subsystems: the per-link record, the run metadata persisted at the service
// boundary, and the collaborator interfaces.
package check

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies the outcome of a single link check.
type Status string

// Link statuses. A record starts Pending and transitions exactly once to one
// of the terminal values.
const (
	StatusPending Status = "pending"
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusError   Status = "error"
)

// Terminal reports whether the status will not change again within a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusError:
		return true
	default:
		return false
	}
}

// Record is the unit of work and result for one submitted link. Original is
// the raw input token and the stable aggregation key; it is never mutated.
type Record struct {
	Original     string    `json:"original"`
	Canonical    string    `json:"canonical"`
	Status       Status    `json:"status"`
	Message      string    `json:"message,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	MemberInfo   string    `json:"member_info,omitempty"`
	RedirectedTo string    `json:"redirected_to,omitempty"`
	CheckedAt    time.Time `json:"checked_at,omitzero"`
}

// NewRecord creates a Pending record for a raw input link.
func NewRecord(original string) Record {
	return Record{
		Original:  original,
		Canonical: Normalize(original),
		Status:    StatusPending,
	}
}

// Preview carries the fields extracted from a channel/group preview page.
// TitleFound is the sole validity signal: Telegram renders no title block for
// nonexistent or private entities.
type Preview struct {
	Title      string
	TitleFound bool
	Extra      string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// RunStatus represents the lifecycle state of a validation run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run will not change state again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusStopped, RunStatusFailed:
		return true
	default:
		return false
	}
}

// RunCounters tracks per-status result totals for a run.
type RunCounters struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Errors  int `json:"errors"`
}

// Total returns the number of terminal results counted so far.
func (c RunCounters) Total() int {
	return c.Valid + c.Invalid + c.Errors
}

// Add increments the counter matching a terminal status.
func (c *RunCounters) Add(s Status) {
	switch s {
	case StatusValid:
		c.Valid++
	case StatusInvalid:
		c.Invalid++
	case StatusError:
		c.Errors++
	}
}

// Run is the metadata persisted for each submitted validation batch.
type Run struct {
	ID        uuid.UUID   `json:"id"`
	Status    RunStatus   `json:"status"`
	Links     []string    `json:"links"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  RunCounters `json:"counters"`
}
