// Package server assembles the application from its configured dependencies
// and runs the HTTP service until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ikun245/telegram-linkstools/internal/api"
	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/clock/system"
	"github.com/ikun245/telegram-linkstools/internal/config"
	"github.com/ikun245/telegram-linkstools/internal/engine"
	"github.com/ikun245/telegram-linkstools/internal/fetcher/archive"
	"github.com/ikun245/telegram-linkstools/internal/fetcher/telegram"
	"github.com/ikun245/telegram-linkstools/internal/hash/sha256"
	"github.com/ikun245/telegram-linkstools/internal/logging"
	"github.com/ikun245/telegram-linkstools/internal/metrics"
	"github.com/ikun245/telegram-linkstools/internal/progress"
	progresssinks "github.com/ikun245/telegram-linkstools/internal/progress/sinks"
	memorypublisher "github.com/ikun245/telegram-linkstools/internal/publisher/memory"
	gcppublisher "github.com/ikun245/telegram-linkstools/internal/publisher/pubsub"
	"github.com/ikun245/telegram-linkstools/internal/ratelimit"
	"github.com/ikun245/telegram-linkstools/internal/runs"
	gcsstorage "github.com/ikun245/telegram-linkstools/internal/storage/gcs"
	localstorage "github.com/ikun245/telegram-linkstools/internal/storage/local"
	memorystorage "github.com/ikun245/telegram-linkstools/internal/storage/memory"
	pgstore "github.com/ikun245/telegram-linkstools/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server

	hub             *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storageClient   *storage.Client
	pgRunStore      *pgstore.RunStore
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
	)

	runStore, err := app.setupRunStore(ctx)
	if err != nil {
		return nil, err
	}
	fetcher, err := app.setupFetcher(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	emitter := app.setupProgress(ctx)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.Limiter.MaxRequests,
		Window:      cfg.LimiterWindow(),
	})

	mgrOpts := []runs.Option{runs.WithLogger(logger.Named("runs"))}
	if publisher != nil {
		mgrOpts = append(mgrOpts, runs.WithPublisher(publisher))
	}
	if emitter != nil {
		mgrOpts = append(mgrOpts, runs.WithProgress(emitter))
	}
	manager := runs.New(
		runs.Config{
			Engine: engine.Config{
				Workers:     cfg.Engine.Workers,
				EventBuffer: cfg.Engine.EventBuffer,
			},
			NotifyTopic: cfg.Notify.Topic,
		},
		runStore,
		fetcher,
		limiter,
		system.New(),
		mgrOpts...,
	)

	app.apiServer = api.NewServer(manager, cfg, logger.Named("api"))
	return app, nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close gracefully releases all infrastructure handles.
func (a *App) Close(ctx context.Context) error {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRunStore != nil {
		a.pgRunStore.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) setupRunStore(ctx context.Context) (check.RunStore, error) {
	switch a.cfg.Storage.Provider {
	case "postgres":
		store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
			MinConns: a.cfg.Storage.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres run store init failed: %w", err)
		}
		a.pgRunStore = store
		a.logger.Info("using postgres run store")
		return store, nil
	default:
		a.logger.Info("using in-memory run store")
		return memorystorage.NewRunStore(), nil
	}
}

func (a *App) setupFetcher(ctx context.Context) (check.Fetcher, error) {
	base := telegram.New(telegram.Config{
		UserAgent: a.cfg.Fetcher.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
		HostRPS:   a.cfg.Fetcher.HostRPS,
		HostBurst: a.cfg.Fetcher.HostBurst,
	})

	var blobs check.BlobStore
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving previews to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
	case "local":
		store, err := localstorage.New(afero.NewOsFs(), localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
		a.logger.Info("archiving previews locally", zap.String("base_dir", a.cfg.Archive.BaseDir))
	case "memory":
		blobs = memorystorage.NewBlobStore()
		a.logger.Info("archiving previews in memory")
	default:
		return base, nil
	}
	return archive.New(base, blobs, sha256.New(), a.cfg.Archive.Prefix, a.logger.Named("archive")), nil
}

func (a *App) setupPublisher(ctx context.Context) (check.Publisher, error) {
	switch a.cfg.Notify.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		pub, err := gcppublisher.New(client)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsubPublisher = pub
		a.logger.Info("publishing run notifications",
			zap.String("project", a.cfg.Notify.ProjectID),
			zap.String("topic", a.cfg.Notify.Topic),
		)
		return pub, nil
	case "memory":
		a.logger.Info("using in-memory notification publisher")
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context) progress.Emitter {
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	sinks := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress"))}
	if err != nil {
		a.logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinks = append(sinks, promSink)
	}

	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress_hub"),
	}, sinks...)
	return a.hub
}
