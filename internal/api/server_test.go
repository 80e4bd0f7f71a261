package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/config"
	"github.com/ikun245/telegram-linkstools/internal/engine"
	"github.com/ikun245/telegram-linkstools/internal/runs"
	"github.com/ikun245/telegram-linkstools/internal/storage/memory"
)

type stubFetcher struct {
	fn func(ctx context.Context, canonical string) (check.Preview, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, canonical string) (check.Preview, error) {
	return s.fn(ctx, canonical)
}

type openLimiter struct{}

func (openLimiter) Acquire(ctx context.Context) error { return ctx.Err() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memory.RunStore) {
	t.Helper()
	fetcher := &stubFetcher{fn: func(_ context.Context, canonical string) (check.Preview, error) {
		if strings.HasSuffix(canonical, "missing") {
			return check.Preview{StatusCode: 200}, nil
		}
		return check.Preview{Title: "Test Channel", TitleFound: true, StatusCode: 200}, nil
	}}
	store := memory.NewRunStore()
	mgr := runs.New(
		runs.Config{Engine: engine.Config{Workers: 2}},
		store, fetcher, openLimiter{}, systemClock{},
	)
	return NewServer(mgr, cfg, nil), store
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doJSON(t, srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRunAndFetchResults(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{"links":["@good","@missing"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	runID, err := uuid.Parse(body["run_id"].(string))
	require.NoError(t, err)
	require.EqualValues(t, 2, body["links"])

	require.Eventually(t, func() bool {
		run, err := store.GetRun(context.Background(), runID)
		return err == nil && run.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeBody(t, rec)["run"].(map[string]any)
	require.Equal(t, string(check.RunStatusCompleted), run["status"])
	counters := run["counters"].(map[string]any)
	require.EqualValues(t, 1, counters["valid"])
	require.EqualValues(t, 1, counters["invalid"])

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID.String()+"/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, decodeBody(t, rec)["count"])
}

func TestSubmitRunExtractsText(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{"text":"join @alpha or https://t.me/beta"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.EqualValues(t, 2, decodeBody(t, rec)["links"])
}

func TestSubmitRunRejectsEmpty(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{"links":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodGet, "/v1/runs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+uuid.NewString()+"/stop", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopRun(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{"links":["@good"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := decodeBody(t, rec)["run_id"].(string)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+runID+"/stop", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "stopping", decodeBody(t, rec)["status"])

	id := uuid.MustParse(runID)
	require.Eventually(t, func() bool {
		run, err := store.GetRun(context.Background(), id)
		return err == nil && run.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExtractEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/extract", `{"text":"ping @alpha and @alpha"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.EqualValues(t, 2, body["count"])

	rec = doJSON(t, srv, http.MethodPost, "/v1/extract", `{"text":"no links here"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, decodeBody(t, rec)["count"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv, _ := newTestServer(t, cfg)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
