// Package memory provides in-memory storage for development and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// RunStore keeps runs and their results in process memory. Results are keyed
// by the originally submitted link, so a resubmitted duplicate overwrites the
// earlier row instead of appending.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]check.Run
	results map[uuid.UUID][]check.Record
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[uuid.UUID]check.Run),
		results: make(map[uuid.UUID][]check.Record),
	}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run check.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status, error text, and counters for a run.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID uuid.UUID,
	status check.RunStatus,
	errText string,
	counters check.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return check.ErrRunNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := time.Now().UTC()
	if status == check.RunStatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// RecordResult upserts the row for rec's original link.
func (s *RunStore) RecordResult(_ context.Context, runID uuid.UUID, rec check.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.results[runID]
	for i := range rows {
		if rows[i].Original == rec.Original {
			rows[i] = rec
			return nil
		}
	}
	s.results[runID] = append(rows, rec)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (check.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return check.Run{}, check.ErrRunNotFound
	}
	return run, nil
}

// ListResults returns all recorded results for a run.
func (s *RunStore) ListResults(_ context.Context, runID uuid.UUID) ([]check.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.results[runID]
	out := make([]check.Record, len(rows))
	copy(out, rows)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
