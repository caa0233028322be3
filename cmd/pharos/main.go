// Package main is the entry point for the Pharos recommendation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyonlabs/pharos/internal/api"
	"github.com/halcyonlabs/pharos/internal/cluster"
	"github.com/halcyonlabs/pharos/internal/config"
	"github.com/halcyonlabs/pharos/internal/embeddings"
	"github.com/halcyonlabs/pharos/internal/experiment"
	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/ingest"
	"github.com/halcyonlabs/pharos/internal/metrics"
	"github.com/halcyonlabs/pharos/internal/prefs"
	"github.com/halcyonlabs/pharos/internal/ranker"
	"github.com/halcyonlabs/pharos/internal/rerank"
	"github.com/halcyonlabs/pharos/internal/server"
	"github.com/halcyonlabs/pharos/internal/store"
)

func main() {
	// Logger
	logLevel := slog.LevelInfo
	if os.Getenv("PHAROS_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Embedding provider
	var provider embeddings.Provider
	switch cfg.EmbeddingBackend {
	case "openai":
		provider = embeddings.NewOpenAIProvider(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		provider = embeddings.NewSimpleProvider()
	}
	gateway := embeddings.NewGateway(provider, embeddings.GatewayConfig{
		BatchSize:  cfg.EmbedBatchSize,
		Timeout:    cfg.EmbedTimeout,
		MaxRetries: cfg.EmbedMaxRetries,
	}, logger)
	logger.Info("embedding provider initialized", "backend", cfg.EmbeddingBackend, "model", provider.Model())

	// Metrics
	m := metrics.New()

	// Vector and cluster indexes
	vectors := index.NewPG(db, provider.Model())
	persister := cluster.NewPGPersister(db, 2)
	clusters := cluster.New(vectors, persister, cluster.Config{
		TargetSize:       cfg.ClusterTargetSize,
		MinClusters:      cfg.MinClusters,
		MaxClusters:      cfg.MaxClusters,
		MinItems:         cfg.MinItemsForClustering,
		SearchWidth:      cfg.ClusterSearchWidth,
		RebuildThreshold: cfg.RebuildThreshold,
		RebuildInterval:  cfg.RebuildInterval,
		StaleHardLimit:   cfg.StaleHardLimit,
		Seed:             42,
	}, logger)
	if gen, err := persister.LoadLatest(ctx); err == nil {
		clusters.Restore(gen)
		logger.Info("cluster generation restored", "version", gen.Version, "items", gen.ItemCount)
	} else if !errors.Is(err, store.ErrNoGeneration) {
		logger.Warn("failed to restore cluster generation", "error", err)
	}
	go clusters.RunRebuildLoop(ctx, cfg.RebuildCheckInterval)

	// Preference model and experiments
	preferences := prefs.New(prefs.NewPGStore(db), vectors, prefs.Config{
		MinInteractions: cfg.MinInteractions,
		RecomputeBatch:  cfg.RecomputeBatch,
	}, logger)
	experiments := experiment.NewManager(experiment.NewPGStore(db), cfg.ExperimentSalt, m, logger)
	if err := experiments.LoadPersisted(ctx); err != nil {
		logger.Warn("failed to load persisted experiment config, using defaults", "error", err)
	}

	sweeper := prefs.NewSweeper(preferences, prefs.NewPGStore(db), experiments.DislikeWeightFor, logger)
	go sweeper.Run(ctx, cfg.SweepInterval)

	// Reranker — only meaningful with an OpenAI-compatible key.
	var reranker rerank.Reranker
	if cfg.OpenAIAPIKey != "" {
		reranker = rerank.NewLLMReranker(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.RerankModel, cfg.RerankTimeout)
	}

	rk := ranker.New(ranker.NewPGStore(db), preferences, clusters, experiments, reranker, m, logger)

	// NATS ingestion — optional, the query surface works without it.
	var broker api.Connectable
	if cfg.NatsURL != "" {
		client, err := ingest.NewClient(cfg.NatsURL, logger)
		if err != nil {
			logger.Warn("failed to connect to NATS, running without ingestion", "error", err)
		} else {
			defer client.Close()
			broker = client
			subscriber := ingest.NewSubscriber(client, ingest.NewPGStore(db), preferences, experiments,
				gateway, vectors, clusters, ingest.Config{
					MinInteractions: cfg.MinInteractions,
					RecomputeBatch:  cfg.RecomputeBatch,
				}, logger)
			if err := subscriber.Start(); err != nil {
				logger.Warn("failed to start feed subscriber", "error", err)
			} else {
				defer subscriber.Stop()
			}
			logger.Info("connected to NATS", "url", cfg.NatsURL)
		}
	}

	// Server
	srv := server.New(cfg, server.Deps{
		DB:          db,
		Vectors:     vectors,
		Clusters:    clusters,
		Preferences: preferences,
		Experiments: experiments,
		Ranker:      rk,
		Metrics:     m,
		Broker:      broker,
	}, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down gracefully...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("Pharos starting", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Pharos stopped")
}
