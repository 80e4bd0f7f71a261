// Package engine implements the concurrent link-validation pipeline: a
// bounded worker pool that pulls submitted links through the sliding-window
// limiter, dispatches fetches, and emits per-link results in completion order.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/metrics"
	"github.com/ikun245/telegram-linkstools/internal/progress"
)

// State is the lifecycle state of an Engine. Each Engine runs one batch; a
// new instance is required per run.
type State string

// Engine lifecycle states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// EventKind discriminates engine events.
type EventKind string

// Event kinds delivered on the run's event channel. Exactly one terminal
// event follows the last result, after which the channel is closed.
const (
	EventResult    EventKind = "result"
	EventCompleted EventKind = "completed"
	EventStopped   EventKind = "stopped"
	EventFailed    EventKind = "failed"
)

// Event is one entry of the ordered result stream. Consumers must key results
// by Record.Original; arrival order is completion order, not submission order.
type Event struct {
	Kind   EventKind
	Record check.Record
	Err    error
}

// Limiter admits fetch starts; Acquire blocks until admission is safe.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config controls pool sizing and event buffering.
type Config struct {
	// Workers bounds concurrent fetches (default 5).
	Workers int
	// EventBuffer sizes the result channel (default 64).
	EventBuffer int
}

const (
	defaultWorkers     = 5
	defaultEventBuffer = 64
)

// Setup failures reported by Start.
var (
	ErrNotIdle       = errors.New("engine already started; one run per instance")
	ErrNoFetcher     = errors.New("no fetcher configured")
	ErrNoLimiter     = errors.New("no rate limiter configured")
	ErrInvalidPool   = errors.New("worker pool size must not be negative")
	ErrEngineStopped = errors.New("engine stopped before start")
)

// Engine orchestrates one validation run.
type Engine struct {
	cfg     Config
	fetcher check.Fetcher
	limiter Limiter
	clock   check.Clock
	logger  *zap.Logger
	emitter progress.Emitter
	runID   uuid.UUID

	mu        sync.Mutex
	state     State
	startedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool

	events chan Event
	wg     sync.WaitGroup
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgress attaches a telemetry emitter; events are tagged with runID.
func WithProgress(emitter progress.Emitter, runID uuid.UUID) Option {
	return func(e *Engine) {
		e.emitter = emitter
		e.runID = runID
	}
}

// New constructs an idle Engine.
func New(cfg Config, fetcher check.Fetcher, limiter Limiter, clock check.Clock, opts ...Option) *Engine {
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		clock:   clock,
		logger:  zap.NewNop(),
		runID:   uuid.New(),
		state:   StateIdle,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start transitions Idle to Running and spawns the worker pool. The returned
// channel delivers results in completion order followed by one terminal event,
// then closes. On setup failure the engine transitions to Failed, the error is
// returned, and the channel still carries the failure signal so consumers with
// no access to the error path observe it too.
func (e *Engine) Start(ctx context.Context, links []string) (<-chan Event, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, ErrNotIdle
	}
	if err := e.setupError(); err != nil {
		e.state = StateFailed
		e.mu.Unlock()
		e.logger.Error("engine setup failed", zap.Error(err))
		e.emitProgress(progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		metrics.ObserveRun(string(StateFailed))
		events := make(chan Event, 1)
		events <- Event{Kind: EventFailed, Err: err}
		close(events)
		return events, err
	}
	e.state = StateRunning
	e.startedAt = e.now()
	e.events = make(chan Event, e.cfg.EventBuffer)
	e.mu.Unlock()

	e.logger.Info("validation run started",
		zap.String("run_id", e.runID.String()),
		zap.Int("links", len(links)),
		zap.Int("workers", e.cfg.Workers),
	)
	e.emitProgress(progress.Event{Stage: progress.StageRunStart})

	work := make(chan string)
	e.wg.Add(e.cfg.Workers)
	for i := 0; i < e.cfg.Workers; i++ {
		go e.worker(ctx, work)
	}
	go e.feed(ctx, work, links)
	go e.finish(ctx)

	return e.events, nil
}

// Stop requests cooperative cancellation. It does not block: workers observe
// the flag before starting the next item, and in-flight fetches run to
// completion because the underlying request is not abortable mid-flight.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.stopCh)
	})
}

func (e *Engine) setupError() error {
	switch {
	case e.cfg.Workers < 0:
		return ErrInvalidPool
	case e.fetcher == nil:
		return ErrNoFetcher
	case e.limiter == nil:
		return ErrNoLimiter
	case e.stopped.Load():
		return ErrEngineStopped
	default:
		return nil
	}
}

func (e *Engine) feed(ctx context.Context, work chan<- string, links []string) {
	defer close(work)
	for _, raw := range links {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if e.stopped.Load() {
			return
		}
		select {
		case work <- raw:
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) worker(ctx context.Context, work <-chan string) {
	defer e.wg.Done()
	for raw := range work {
		if e.halted(ctx) {
			return
		}
		rec, dur, ok := e.checkLink(ctx, raw)
		if !ok {
			return
		}
		e.events <- Event{Kind: EventResult, Record: rec}
		e.emitProgress(progress.Event{
			Stage:  progress.StageCheckDone,
			Link:   rec.Original,
			Status: rec.Status,
			Dur:    dur,
		})
	}
}

// checkLink runs the strictly sequential per-link pipeline:
// normalize -> acquire -> fetch -> classify. The second return value is false
// when the run was canceled before a terminal result existed; nothing is
// emitted in that case.
func (e *Engine) checkLink(ctx context.Context, raw string) (check.Record, time.Duration, bool) {
	rec := check.NewRecord(raw)

	if err := e.limiter.Acquire(ctx); err != nil {
		// Cancellation during the admission wait is a termination path, not a
		// per-link failure.
		return check.Record{}, 0, false
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	preview, err := e.fetcher.Fetch(ctx, rec.Canonical)
	rec.CheckedAt = e.now()
	if err != nil {
		if ctx.Err() != nil {
			return check.Record{}, 0, false
		}
		rec.Status = check.StatusError
		rec.Message = err.Error()
		metrics.ObserveCheck(string(rec.Status), preview.Duration)
		e.logger.Debug("link check failed", zap.String("link", raw), zap.Error(err))
		return rec, preview.Duration, true
	}

	if preview.TitleFound {
		rec.Status = check.StatusValid
		rec.DisplayName = preview.Title
	} else {
		rec.Status = check.StatusInvalid
	}
	rec.MemberInfo = preview.Extra
	if preview.FinalURL != "" && preview.FinalURL != rec.Canonical {
		rec.RedirectedTo = preview.FinalURL
	}
	metrics.ObserveCheck(string(rec.Status), preview.Duration)
	return rec, preview.Duration, true
}

func (e *Engine) finish(ctx context.Context) {
	e.wg.Wait()

	final := StateCompleted
	stage := progress.StageRunDone
	kind := EventCompleted
	if e.stopped.Load() || ctx.Err() != nil {
		final = StateStopped
		stage = progress.StageRunStopped
		kind = EventStopped
	}

	e.mu.Lock()
	e.state = final
	elapsed := e.now().Sub(e.startedAt)
	e.mu.Unlock()

	e.events <- Event{Kind: kind}
	close(e.events)

	e.emitProgress(progress.Event{Stage: stage, Dur: elapsed})
	metrics.ObserveRun(string(final))
	e.logger.Info("validation run finished",
		zap.String("run_id", e.runID.String()),
		zap.String("state", string(final)),
		zap.Duration("elapsed", elapsed),
	)
}

func (e *Engine) halted(ctx context.Context) bool {
	return e.stopped.Load() || ctx.Err() != nil
}

func (e *Engine) emitProgress(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(e.runID)
	evt.TS = e.now()
	e.emitter.Emit(evt)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}
