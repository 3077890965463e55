package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-blogflow/pkg/batching"
	"github.com/illmade-knight/go-blogflow/pkg/dedup"
	"github.com/illmade-knight/go-blogflow/pkg/ingest"
	"github.com/illmade-knight/go-blogflow/pkg/pipeline"
	"github.com/illmade-knight/go-blogflow/pkg/publish"
	"github.com/rs/zerolog"
)

// Collaborators bundles the external dependencies injected into the service.
// The flush path receives everything through constructors; nothing is pulled
// from ambient global state.
type Collaborators struct {
	Describer pipeline.Describer
	Media     pipeline.MediaStore
	Generator pipeline.Generator
	Searcher  pipeline.Searcher // optional
	Publisher publish.Publisher
	Recorder  publish.Recorder
	Notifier  publish.Notifier
	Deduper   dedup.Deduper
}

// Service composes the aggregation engine: webhook adapter → debounce
// scheduler → enrichment pipeline → publish coordinator, behind one HTTP
// server with a health probe.
type Service struct {
	cfg    *Config
	logger zerolog.Logger

	scheduler   *batching.Scheduler
	pipeline    *pipeline.Pipeline
	coordinator *publish.Coordinator
	notifier    publish.Notifier
	webhook     *ingest.WebhookHandler

	mux        *http.ServeMux
	httpServer *http.Server
	actualAddr string
	addrMu     sync.RWMutex
}

// New wires the aggregation engine together.
func New(cfg *Config, collaborators Collaborators, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		logger:   logger.With().Str("service", "blogflow").Logger(),
		notifier: collaborators.Notifier,
	}

	enrichment, err := pipeline.NewPipeline(
		pipeline.Config{},
		collaborators.Describer,
		collaborators.Media,
		collaborators.Generator,
		collaborators.Searcher,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = enrichment

	coordinator, err := publish.NewCoordinator(
		publish.CoordinatorConfig{},
		collaborators.Publisher,
		collaborators.Recorder,
		collaborators.Notifier,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	s.coordinator = coordinator

	scheduler, err := batching.NewScheduler(
		batching.SchedulerConfig{Window: cfg.BatchWindow},
		s.flushBatch,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = scheduler

	s.webhook = ingest.NewWebhookHandler(cfg.ChannelSecret, scheduler, collaborators.Deduper, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/webhook", s.webhook)
	s.mux = mux
	s.httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	return s, nil
}

// flushBatch is the scheduler's flush function: enrichment and synthesis,
// then publishing. It runs on the timer goroutine, outside any scheduler
// lock, so new events for the same key keep accumulating meanwhile.
func (s *Service) flushBatch(ctx context.Context, key string, items []*batching.PendingItem) {
	draft, err := s.pipeline.Run(ctx, key, items)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Int("item_count", len(items)).Msg("Batch synthesis failed, nothing published.")
		if notifyErr := s.notifier.Notify(ctx, key, "Creating your article failed. Your messages were kept and can be reviewed."); notifyErr != nil {
			s.logger.Warn().Err(notifyErr).Str("key", key).Msg("Failed to notify origin channel.")
		}
		return
	}

	if _, err := s.coordinator.Publish(ctx, key, draft, items); err != nil {
		// The coordinator already recorded the failure and notified the user.
		s.logger.Error().Err(err).Str("key", key).Msg("Batch publish failed.")
	}
}

// Scheduler exposes the enqueue entry point for additional ingestors.
func (s *Service) Scheduler() *batching.Scheduler { return s.scheduler }

// Webhook exposes the adapter for additional ingestion transports.
func (s *Service) Webhook() *ingest.WebhookHandler { return s.webhook }

// Mux returns the HTTP mux, so callers can attach extra routes before Start.
func (s *Service) Mux() *http.ServeMux { return s.mux }

// Start begins serving HTTP and arms the scheduler with ctx for flushes.
func (s *Service) Start(ctx context.Context) error {
	s.scheduler.Start(ctx)

	listener, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
	}
	s.addrMu.Lock()
	s.actualAddr = listener.Addr().String()
	s.addrMu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Addr returns the address the server is actually listening on.
func (s *Service) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.actualAddr
}

// Shutdown stops accepting events, drains in-flight batches, and stops the
// HTTP server, all bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down...")

	var shutdownErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		shutdownErr = err
	}
	if err := s.scheduler.Stop(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error draining scheduler.")
		shutdownErr = err
	}

	s.logger.Info().Msg("Shutdown complete.")
	return shutdownErr
}
