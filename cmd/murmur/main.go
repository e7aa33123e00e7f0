package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/davidems/murmur/internal/brain"
	"github.com/davidems/murmur/internal/config"
	"github.com/davidems/murmur/internal/engine"
	"github.com/davidems/murmur/internal/httpapi"
	"github.com/davidems/murmur/internal/jobs"
	"github.com/davidems/murmur/internal/observability"
	"github.com/davidems/murmur/internal/prefs"
	"github.com/davidems/murmur/internal/store"
)

func main() {
	log := zerolog.New(os.Stdout).With().
		Str("service", "murmur").
		Timestamp().
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
	}

	var client brain.Client
	if strings.TrimSpace(cfg.CompletionURL) != "" {
		client, err = brain.NewHTTPClient(cfg.CompletionURL, cfg.CompletionAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("completion client init failed")
		}
		log.Info().Str("url", cfg.CompletionURL).Msg("completion backend: http")
	} else {
		client = brain.NewMockClient(nil)
		log.Warn().Msg("COMPLETION_URL not set, using mock completions")
	}
	invoker := brain.NewInvoker(client, brain.InvokerConfig{
		PrimaryModel:    cfg.PrimaryModel,
		FallbackModel:   cfg.FallbackModel,
		PrimaryTimeout:  cfg.PrimaryTimeout,
		FallbackTimeout: cfg.FallbackTimeout,
		MaxTokens:       cfg.CompletionTokens,
		Temperature:     cfg.Temperature,
	}, log)

	eng := engine.New(log)
	resolver := prefs.NewResolver(st, log)

	queue := jobs.NewQueue(jobs.NewDispatcher(st, log), jobs.Config{
		Interval:       cfg.QueueInterval,
		BatchSize:      cfg.QueueBatchSize,
		MaxConcurrency: cfg.QueueMaxConcurrency,
		MaxRetries:     cfg.QueueMaxRetries,
	}, log, metrics)
	queueCtx, queueCancel := context.WithCancel(ctx)
	defer queueCancel()
	queue.Start(queueCtx)

	sweeper := cron.New()
	_, err = sweeper.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), func() {
		cutoff := time.Now().Add(-cfg.SessionInactivityTimeout)
		expired, err := st.ExpireSessionsInactiveSince(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("session sweep failed")
			return
		}
		pruned := eng.Prune(cutoff)
		metrics.TrackedSessions.Set(float64(eng.TrackedSessions()))
		if expired > 0 || pruned > 0 {
			log.Info().Int("expired", expired).Int("pruned", pruned).Msg("session sweep")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("sweep schedule invalid")
	}
	sweeper.Start()

	api := httpapi.New(cfg, resolver, eng, invoker, queue, st, metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	// Stop intake first, then let the queue drain what it already holds.
	<-sweeper.Stop().Done()
	queue.Stop()

	log.Info().Msg("shutdown complete")
}
