package runs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/engine"
	pubmemory "github.com/ikun245/telegram-linkstools/internal/publisher/memory"
	"github.com/ikun245/telegram-linkstools/internal/storage/memory"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, canonical string) (check.Preview, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, canonical string) (check.Preview, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, canonical)
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type openLimiter struct{}

func (openLimiter) Acquire(ctx context.Context) error { return ctx.Err() }

func terminalStatus(t *testing.T, store check.RunStore, runID uuid.UUID) func() bool {
	t.Helper()
	return func() bool {
		run, err := store.GetRun(context.Background(), runID)
		return err == nil && run.Status.Terminal()
	}
}

func TestManagerRunLifecycle(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, canonical string) (check.Preview, error) {
		switch canonical {
		case check.CanonicalHost + "good":
			return check.Preview{Title: "Good Channel", TitleFound: true, StatusCode: 200}, nil
		case check.CanonicalHost + "gone":
			return check.Preview{StatusCode: 200}, nil
		default:
			return check.Preview{}, errors.New("connection refused")
		}
	}}
	store := memory.NewRunStore()
	pub := pubmemory.New()
	clock := fixedClock{t: time.Unix(1700000000, 0).UTC()}

	mgr := New(
		Config{Engine: engine.Config{Workers: 2}, NotifyTopic: "run-events"},
		store, fetcher, openLimiter{}, clock,
		WithPublisher(pub),
	)

	run, err := mgr.StartRun(context.Background(), []string{"@good", "@gone", "@broken"})
	require.NoError(t, err)
	require.Equal(t, check.RunStatusRunning, run.Status)
	require.Len(t, run.Links, 3)

	require.Eventually(t, terminalStatus(t, store, run.ID), 2*time.Second, 10*time.Millisecond)

	final, err := mgr.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, check.RunStatusCompleted, final.Status)
	require.Equal(t, check.RunCounters{Valid: 1, Invalid: 1, Errors: 1}, final.Counters)
	require.NotNil(t, final.Finished)

	records, err := mgr.Results(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-events", msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, run.ID.String(), note.RunID)
	require.Equal(t, check.RunStatusCompleted, note.Status)
	require.Equal(t, 3, note.Counters.Total())
}

func TestManagerStopRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		<-release
		return check.Preview{Title: "Slow Channel", TitleFound: true, StatusCode: 200}, nil
	}}
	store := memory.NewRunStore()
	clock := fixedClock{t: time.Unix(1700000000, 0).UTC()}

	mgr := New(Config{Engine: engine.Config{Workers: 1}}, store, fetcher, openLimiter{}, clock)

	links := make([]string, 30)
	for i := range links {
		links[i] = "@channel"
	}
	run, err := mgr.StartRun(context.Background(), links)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.StopRun(context.Background(), run.ID))
	close(release)

	require.Eventually(t, terminalStatus(t, store, run.ID), 2*time.Second, 10*time.Millisecond)

	final, err := mgr.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, check.RunStatusStopped, final.Status)

	// A second stop after completion is a no-op.
	require.NoError(t, mgr.StopRun(context.Background(), run.ID))
}

func TestManagerStopUnknownRun(t *testing.T) {
	t.Parallel()

	store := memory.NewRunStore()
	mgr := New(Config{}, store, &stubFetcher{fn: nil}, openLimiter{}, fixedClock{t: time.Now()})

	err := mgr.StopRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, check.ErrRunNotFound)
}

func TestManagerRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	store := memory.NewRunStore()
	mgr := New(Config{}, store, &stubFetcher{fn: nil}, openLimiter{}, fixedClock{t: time.Now()})

	_, err := mgr.StartRun(context.Background(), nil)
	require.Error(t, err)
}

func TestManagerServesLiveResults(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fetcher := &stubFetcher{fn: func(_ context.Context, canonical string) (check.Preview, error) {
		if canonical == check.CanonicalHost+"second" {
			<-gate
		}
		return check.Preview{Title: "Channel", TitleFound: true, StatusCode: 200}, nil
	}}
	store := memory.NewRunStore()
	clock := fixedClock{t: time.Unix(1700000000, 0).UTC()}

	mgr := New(Config{Engine: engine.Config{Workers: 1}}, store, fetcher, openLimiter{}, clock)

	run, err := mgr.StartRun(context.Background(), []string{"@first", "@second"})
	require.NoError(t, err)

	// While the second fetch is blocked, the first result is visible through
	// the in-memory aggregator and reflected in the live counters.
	require.Eventually(t, func() bool {
		records, err := mgr.Results(context.Background(), run.ID)
		return err == nil && len(records) == 1
	}, time.Second, 5*time.Millisecond)

	live, err := mgr.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, check.RunStatusRunning, live.Status)
	require.Equal(t, 1, live.Counters.Valid)

	close(gate)
	require.Eventually(t, terminalStatus(t, store, run.ID), 2*time.Second, 10*time.Millisecond)

	records, err := mgr.Results(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
}
