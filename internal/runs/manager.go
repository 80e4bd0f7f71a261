// Package runs coordinates validation runs at the service boundary: it owns
// the per-run engines, streams their results into the aggregator and the run
// store, and fans out completion notifications.
package runs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/engine"
	"github.com/ikun245/telegram-linkstools/internal/progress"
	"github.com/ikun245/telegram-linkstools/internal/results"
)

// Config controls run execution.
type Config struct {
	// Engine is applied to every run's worker pool.
	Engine engine.Config
	// NotifyTopic receives completion notifications when a publisher is set.
	NotifyTopic string
}

// Notification is the payload published when a run reaches a terminal state.
type Notification struct {
	RunID      string            `json:"run_id"`
	Status     check.RunStatus   `json:"status"`
	Counters   check.RunCounters `json:"counters"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Manager starts, observes, and stops validation runs. All runs share one
// limiter so the global request budget holds across concurrent runs.
type Manager struct {
	cfg       Config
	store     check.RunStore
	fetcher   check.Fetcher
	limiter   engine.Limiter
	clock     check.Clock
	publisher check.Publisher
	emitter   progress.Emitter
	logger    *zap.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
}

type activeRun struct {
	engine *engine.Engine
	agg    *results.Aggregator
	done   chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPublisher enables completion notifications.
func WithPublisher(p check.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithProgress routes run telemetry through the given emitter.
func WithProgress(e progress.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New constructs a Manager.
func New(cfg Config, store check.RunStore, fetcher check.Fetcher, limiter engine.Limiter, clock check.Clock, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		limiter: limiter,
		clock:   clock,
		logger:  zap.NewNop(),
		active:  make(map[uuid.UUID]*activeRun),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartRun persists a new run and launches its engine. The run executes on a
// context detached from ctx, so it outlives the submitting request.
func (m *Manager) StartRun(ctx context.Context, links []string) (check.Run, error) {
	if len(links) == 0 {
		return check.Run{}, fmt.Errorf("at least one link is required")
	}

	run := check.Run{
		ID:        uuid.New(),
		Status:    check.RunStatusQueued,
		Links:     append([]string(nil), links...),
		Submitted: m.clock.Now(),
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return check.Run{}, fmt.Errorf("create run: %w", err)
	}

	engOpts := []engine.Option{engine.WithLogger(m.logger)}
	if m.emitter != nil {
		engOpts = append(engOpts, engine.WithProgress(m.emitter, run.ID))
	}
	eng := engine.New(m.cfg.Engine, m.fetcher, m.limiter, m.clock, engOpts...)

	runCtx := context.WithoutCancel(ctx)
	events, err := eng.Start(runCtx, run.Links)
	if err != nil {
		_ = m.store.UpdateRunStatus(ctx, run.ID, check.RunStatusFailed, err.Error(), check.RunCounters{})
		return check.Run{}, fmt.Errorf("start engine: %w", err)
	}

	run.Status = check.RunStatusRunning
	if err := m.store.UpdateRunStatus(ctx, run.ID, run.Status, "", check.RunCounters{}); err != nil {
		m.logger.Warn("mark run running failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}

	ar := &activeRun{
		engine: eng,
		agg:    results.New(),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.active[run.ID] = ar
	m.mu.Unlock()

	go m.drain(runCtx, run.ID, ar, events)

	return run, nil
}

// StopRun requests cooperative cancellation of an active run. Stopping a run
// that already finished is a no-op.
func (m *Manager) StopRun(ctx context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	ar, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		ar.engine.Stop()
		return nil
	}
	// Not active: confirm the run exists so unknown IDs still 404.
	if _, err := m.store.GetRun(ctx, runID); err != nil {
		return err
	}
	return nil
}

// GetRun returns run metadata. For an active run the counters reflect results
// aggregated so far rather than the last persisted snapshot.
func (m *Manager) GetRun(ctx context.Context, runID uuid.UUID) (check.Run, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return check.Run{}, err
	}
	m.mu.Lock()
	ar, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		run.Counters = countersOf(ar.agg.Snapshot())
	}
	return run, nil
}

// Results returns the per-link results of a run. Active runs are served from
// the in-memory aggregator; finished runs come from the store.
func (m *Manager) Results(ctx context.Context, runID uuid.UUID) ([]check.Record, error) {
	m.mu.Lock()
	ar, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		snap := ar.agg.Snapshot()
		out := make([]check.Record, 0, len(snap))
		for _, rec := range snap {
			out = append(out, rec)
		}
		return out, nil
	}
	return m.store.ListResults(ctx, runID)
}

// drain consumes the engine's event stream until the terminal event, keeping
// the aggregator and the store in sync as results arrive.
func (m *Manager) drain(ctx context.Context, runID uuid.UUID, ar *activeRun, events <-chan engine.Event) {
	var terminal engine.Event
	for evt := range events {
		if evt.Kind != engine.EventResult {
			terminal = evt
			continue
		}
		ar.agg.Record(evt.Record)
		if err := m.store.RecordResult(ctx, runID, evt.Record); err != nil {
			m.logger.Warn("persist result failed",
				zap.String("run_id", runID.String()),
				zap.String("link", evt.Record.Original),
				zap.Error(err),
			)
		}
	}
	m.finishRun(ctx, runID, ar, terminal)
}

func (m *Manager) finishRun(ctx context.Context, runID uuid.UUID, ar *activeRun, terminal engine.Event) {
	status := check.RunStatusCompleted
	errText := ""
	switch terminal.Kind {
	case engine.EventStopped:
		status = check.RunStatusStopped
	case engine.EventFailed:
		status = check.RunStatusFailed
		if terminal.Err != nil {
			errText = terminal.Err.Error()
		}
	}
	counters := countersOf(ar.agg.Snapshot())

	if err := m.store.UpdateRunStatus(ctx, runID, status, errText, counters); err != nil {
		m.logger.Error("persist run completion failed",
			zap.String("run_id", runID.String()),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	delete(m.active, runID)
	m.mu.Unlock()

	m.notify(ctx, runID, status, counters)
	m.logger.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.String("status", string(status)),
		zap.Int("valid", counters.Valid),
		zap.Int("invalid", counters.Invalid),
		zap.Int("errors", counters.Errors),
	)
	close(ar.done)
}

func (m *Manager) notify(ctx context.Context, runID uuid.UUID, status check.RunStatus, counters check.RunCounters) {
	if m.publisher == nil || m.cfg.NotifyTopic == "" {
		return
	}
	payload := Notification{
		RunID:      runID.String(),
		Status:     status,
		Counters:   counters,
		FinishedAt: m.clock.Now(),
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.NotifyTopic, payload); err != nil {
		m.logger.Warn("publish run notification failed",
			zap.String("run_id", runID.String()),
			zap.Error(err),
		)
	}
}

func countersOf(snap map[string]check.Record) check.RunCounters {
	var counters check.RunCounters
	for _, rec := range snap {
		counters.Add(rec.Status)
	}
	return counters
}
