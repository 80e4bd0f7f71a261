package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, canonical string) (check.Preview, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, canonical string) (check.Preview, error) {
	s.mu.Lock()
	s.calls = append(s.calls, canonical)
	s.mu.Unlock()
	return s.fn(ctx, canonical)
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type countingLimiter struct {
	acquires atomic.Int64
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.acquires.Add(1)
	return ctx.Err()
}

func validPreview(title string) check.Preview {
	return check.Preview{
		Title:      title,
		TitleFound: true,
		Extra:      "1 234 subscribers",
		StatusCode: 200,
		Duration:   5 * time.Millisecond,
	}
}

func collect(t *testing.T, events <-chan Event) ([]check.Record, Event) {
	t.Helper()
	var records []check.Record
	var terminal Event
	for evt := range events {
		if evt.Kind == EventResult {
			records = append(records, evt.Record)
			continue
		}
		terminal = evt
	}
	require.NotEmpty(t, terminal.Kind, "terminal event missing")
	return records, terminal
}

func TestEngineCompletesAllLinks(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, canonical string) (check.Preview, error) {
		return validPreview("Channel " + canonical), nil
	}}
	limiter := &countingLimiter{}
	eng := New(Config{Workers: 3}, fetcher, limiter, nil)

	links := []string{"@one", "@two", "@three", "@four", "@five"}
	events, err := eng.Start(context.Background(), links)
	require.NoError(t, err)

	records, terminal := collect(t, events)
	require.Equal(t, EventCompleted, terminal.Kind)
	require.Len(t, records, len(links))
	require.Equal(t, StateCompleted, eng.State())
	require.EqualValues(t, len(links), limiter.acquires.Load())

	seen := make(map[string]check.Record, len(records))
	for _, rec := range records {
		seen[rec.Original] = rec
	}
	require.Contains(t, seen, "@two")
	require.Equal(t, check.StatusValid, seen["@two"].Status)
	require.Equal(t, check.CanonicalHost+"two", seen["@two"].Canonical)
	require.False(t, seen["@two"].CheckedAt.IsZero())
}

func TestEngineClassifiesResults(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, canonical string) (check.Preview, error) {
		switch canonical {
		case check.CanonicalHost + "good":
			return validPreview("Good Channel"), nil
		case check.CanonicalHost + "gone":
			return check.Preview{StatusCode: 200}, nil
		case check.CanonicalHost + "moved":
			p := validPreview("Moved Channel")
			p.FinalURL = check.CanonicalHost + "elsewhere"
			return p, nil
		default:
			return check.Preview{}, errors.New("connection reset")
		}
	}}
	eng := New(Config{Workers: 2}, fetcher, &countingLimiter{}, nil)

	events, err := eng.Start(context.Background(), []string{"@good", "@gone", "@moved", "@broken"})
	require.NoError(t, err)

	records, terminal := collect(t, events)
	require.Equal(t, EventCompleted, terminal.Kind)

	byLink := make(map[string]check.Record, len(records))
	for _, rec := range records {
		byLink[rec.Original] = rec
	}

	require.Equal(t, check.StatusValid, byLink["@good"].Status)
	require.Equal(t, "Good Channel", byLink["@good"].DisplayName)
	require.Equal(t, "1 234 subscribers", byLink["@good"].MemberInfo)

	require.Equal(t, check.StatusInvalid, byLink["@gone"].Status)
	require.Empty(t, byLink["@gone"].DisplayName)

	require.Equal(t, check.StatusValid, byLink["@moved"].Status)
	require.Equal(t, check.CanonicalHost+"elsewhere", byLink["@moved"].RedirectedTo)

	require.Equal(t, check.StatusError, byLink["@broken"].Status)
	require.Contains(t, byLink["@broken"].Message, "connection reset")
}

func TestEngineStopHaltsPendingWork(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		<-release
		return validPreview("Slow Channel"), nil
	}}
	eng := New(Config{Workers: 1}, fetcher, &countingLimiter{}, nil)

	links := make([]string, 50)
	for i := range links {
		links[i] = "@channel"
	}
	events, err := eng.Start(context.Background(), links)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fetcher.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	eng.Stop()
	close(release)

	records, terminal := collect(t, events)
	require.Equal(t, EventStopped, terminal.Kind)
	require.Equal(t, StateStopped, eng.State())

	// The in-flight fetch runs to completion and its result is still emitted;
	// everything queued behind it is abandoned.
	require.Len(t, records, 1)
	require.Equal(t, 1, fetcher.callCount())
}

func TestEngineStopIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		return validPreview("Channel"), nil
	}}
	eng := New(Config{}, fetcher, &countingLimiter{}, nil)

	events, err := eng.Start(context.Background(), []string{"@one"})
	require.NoError(t, err)

	eng.Stop()
	eng.Stop()
	eng.Stop()

	_, terminal := collect(t, events)
	require.Contains(t, []EventKind{EventStopped, EventCompleted}, terminal.Kind)
}

func TestEngineContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	fetcher := &stubFetcher{fn: func(ctx context.Context, _ string) (check.Preview, error) {
		close(started)
		<-ctx.Done()
		return check.Preview{}, ctx.Err()
	}}
	eng := New(Config{Workers: 1}, fetcher, &countingLimiter{}, nil)

	events, err := eng.Start(ctx, []string{"@one", "@two", "@three"})
	require.NoError(t, err)

	<-started
	cancel()

	records, terminal := collect(t, events)
	require.Equal(t, EventStopped, terminal.Kind)
	// A fetch aborted by caller cancellation never surfaces as an error result.
	require.Empty(t, records)
}

func TestEngineRejectsReuse(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		return validPreview("Channel"), nil
	}}
	eng := New(Config{}, fetcher, &countingLimiter{}, nil)

	events, err := eng.Start(context.Background(), []string{"@one"})
	require.NoError(t, err)
	collect(t, events)

	_, err = eng.Start(context.Background(), []string{"@two"})
	require.ErrorIs(t, err, ErrNotIdle)
}

func TestEngineSetupFailure(t *testing.T) {
	t.Parallel()

	eng := New(Config{}, nil, &countingLimiter{}, nil)

	events, err := eng.Start(context.Background(), []string{"@one"})
	require.ErrorIs(t, err, ErrNoFetcher)
	require.Equal(t, StateFailed, eng.State())

	evt, ok := <-events
	require.True(t, ok)
	require.Equal(t, EventFailed, evt.Kind)
	require.ErrorIs(t, evt.Err, ErrNoFetcher)
	_, ok = <-events
	require.False(t, ok)
}

func TestEngineInvalidPoolSize(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		return validPreview("Channel"), nil
	}}
	eng := New(Config{Workers: -1}, fetcher, &countingLimiter{}, nil)

	_, err := eng.Start(context.Background(), []string{"@one"})
	require.ErrorIs(t, err, ErrInvalidPool)
}

func TestEngineEmptyBatchCompletes(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		return validPreview("Channel"), nil
	}}
	eng := New(Config{}, fetcher, &countingLimiter{}, nil)

	events, err := eng.Start(context.Background(), nil)
	require.NoError(t, err)

	records, terminal := collect(t, events)
	require.Empty(t, records)
	require.Equal(t, EventCompleted, terminal.Kind)
	require.Equal(t, 0, fetcher.callCount())
}

func TestEngineBoundsConcurrentFetches(t *testing.T) {
	t.Parallel()

	const workers = 3
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	release := make(chan struct{})
	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return validPreview("Channel"), nil
	}}
	eng := New(Config{Workers: workers}, fetcher, &countingLimiter{}, nil)

	links := []string{"@a", "@b", "@c", "@d", "@e", "@f", "@g", "@h"}
	events, err := eng.Start(context.Background(), links)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == workers
	}, time.Second, 5*time.Millisecond, "pool never saturated")
	close(release)

	records, terminal := collect(t, events)
	require.Equal(t, EventCompleted, terminal.Kind)
	require.Len(t, records, len(links))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, workers, peak, "fetches in flight exceeded the pool size")
}

func TestEngineSkipsBlankEntries(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fn: func(_ context.Context, _ string) (check.Preview, error) {
		return validPreview("Channel"), nil
	}}
	eng := New(Config{}, fetcher, &countingLimiter{}, nil)

	events, err := eng.Start(context.Background(), []string{"", "  ", "@alpha", "\t"})
	require.NoError(t, err)

	records, terminal := collect(t, events)
	require.Len(t, records, 1)
	require.Equal(t, EventCompleted, terminal.Kind)
	require.Equal(t, 1, fetcher.callCount())
}
