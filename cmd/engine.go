package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-auth/internal/classifier"
	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database/postgres"
	"github.com/kozaktomas/face-auth/internal/faceauth"
	"github.com/kozaktomas/face-auth/internal/facematch"
	"github.com/kozaktomas/face-auth/internal/fingerprint"
	"github.com/kozaktomas/face-auth/internal/logger"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// engine bundles the store, extractor and classifier shared by every command.
type engine struct {
	cfg       *config.Config
	pool      *postgres.Pool
	store     *postgres.DescriptorRepository
	cache     *classifier.Cache
	extractor fingerprint.Extractor
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	// warmed is closed once the startup classifier rebuild, if any, is over
	warmed <-chan struct{}
}

// openEngine connects to PostgreSQL, applies migrations and loads the
// classifier snapshot. A stale snapshot is rebuilt in the background while
// the matcher keeps serving.
func openEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := postgres.NewDescriptorRepository(pool)
	e := &engine{
		cfg:   cfg,
		pool:  pool,
		store: store,
		cache: classifier.NewCache(store, cfg.Classifier.Neighbors, cfg.Classifier.Path),
		extractor: &fingerprint.Downscaling{
			Next:   fingerprint.NewFaceClient(cfg.Embedding.URL, cfg.Embedding.Dim),
			Factor: cfg.Embedding.ResizeFactor,
		},
		registry: registry,
		metrics:  metrics.New(registry),
	}

	e.warmed = e.cache.Warm(ctx)
	return e, nil
}

func (e *engine) enroller(progress func()) *faceauth.Enroller {
	return faceauth.NewEnroller(e.store, e.extractor, e.cache, faceauth.EnrollerOptions{
		MinSamples:       e.cfg.Matching.MinSamples,
		Workers:          e.cfg.Embedding.Workers,
		AllowedExtension: e.cfg.IsAllowedExtension,
		Progress:         progress,
		Metrics:          e.metrics,
	})
}

func (e *engine) authenticator(threshold float64) *faceauth.Authenticator {
	return faceauth.NewAuthenticator(
		e.store,
		facematch.NewMatcher(e.store, threshold),
		e.cache,
		e.extractor,
		faceauth.AuthenticatorOptions{
			AllowedExtension: e.cfg.IsAllowedExtension,
			Metrics:          e.metrics,
		},
	)
}

func (e *engine) Close() {
	<-e.warmed
	if err := e.pool.Close(); err != nil {
		logger.Named("postgres").Warn("failed to close pool", logger.Err(err))
	}
}
