// Package telegram implements check.Fetcher against the public t.me preview
// pages using a Colly collector.
package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// DefaultUserAgent is a desktop browser identity; t.me serves complete
// preview markup to it without a consent interstitial.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// HostRPS caps request starts against a single host, independently of the
	// run-wide sliding window. Zero disables the per-host cap.
	HostRPS   float64
	HostBurst int
}

// Fetcher implements check.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		hosts:         make(map[string]*rate.Limiter),
	}
}

// Fetch executes a single HTTP GET for the canonical address and extracts the
// preview metadata. Redirects are followed; Preview.FinalURL reports where the
// request ended up. A non-2xx response that still carries a parseable body is
// treated as a response, not a failure.
func (f *Fetcher) Fetch(ctx context.Context, canonical string) (check.Preview, error) {
	if err := f.waitHost(ctx, canonical); err != nil {
		return check.Preview{}, err
	}

	var (
		result   check.Preview
		captured bool
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = buildPreview(r, start)
		captured = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 && len(r.Body) > 0 {
			result = buildPreview(r, start)
			captured = true
			return
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, canonical); err != nil {
		return check.Preview{}, err
	}
	if fetchErr != nil {
		return check.Preview{}, fmt.Errorf("fetch %s: %w", canonical, fetchErr)
	}
	if !captured {
		return check.Preview{}, fmt.Errorf("fetch %s: no response captured", canonical)
	}
	if err := parsePreview(&result); err != nil {
		return check.Preview{}, fmt.Errorf("parse preview %s: %w", canonical, err)
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, address string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(address)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", address, err)
		}
		return nil
	}
}

func (f *Fetcher) waitHost(ctx context.Context, address string) error {
	if f.cfg.HostRPS <= 0 {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(address); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}

	f.mu.Lock()
	limiter, ok := f.hosts[host]
	if !ok {
		burst := f.cfg.HostBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(f.cfg.HostRPS), burst)
		f.hosts[host] = limiter
	}
	f.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate wait: %w", err)
	}
	return nil
}

func buildPreview(r *colly.Response, start time.Time) check.Preview {
	return check.Preview{
		FinalURL:   r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
