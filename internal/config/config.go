// Package config provides environment-based configuration for Pharos.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Pharos service.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Database (PostgreSQL with pgvector)
	DatabaseURL string

	// NATS interaction ingestion
	NatsURL string

	// Embeddings
	EmbeddingBackend string // "simple" or "openai"
	OpenAIAPIKey     string
	OpenAIAPIBase    string
	OpenAIModel      string
	EmbedBatchSize   int
	EmbedTimeout     time.Duration
	EmbedMaxRetries  int

	// Reranker
	RerankModel   string
	RerankTimeout time.Duration

	// Clustering
	ClusterTargetSize     int           // desired items per cluster
	MinClusters           int           // lower bound on k
	MaxClusters           int           // upper bound on k
	MinItemsForClustering int           // below this, brute force only
	ClusterSearchWidth    int           // nearest centroids examined per query
	RebuildThreshold      int           // items added since build that force a rebuild
	RebuildInterval       time.Duration // max age of a generation before rebuild
	RebuildCheckInterval  time.Duration // background staleness check cadence
	StaleHardLimit        time.Duration // beyond this age, queries skip the index

	// Preferences
	MinInteractions int // eligibility threshold
	RecomputeBatch  int // new interactions before a recompute is triggered
	SweepInterval   time.Duration

	// Experiments
	ExperimentSalt string

	// Rate limiting
	RankRateLimit int // requests per minute per caller
	RateWindow    time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	c := &Config{
		Port:     envInt("PHAROS_PORT", 8600),
		LogLevel: envStr("PHAROS_LOG_LEVEL", "info"),

		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),

		EmbeddingBackend: envStr("EMBEDDING_BACKEND", "simple"),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		OpenAIAPIBase:    envStr("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OpenAIModel:      envStr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbedBatchSize:   envInt("EMBED_BATCH_SIZE", 64),
		EmbedTimeout:     envDuration("EMBED_TIMEOUT", 30*time.Second),
		EmbedMaxRetries:  envInt("EMBED_MAX_RETRIES", 3),

		RerankModel:   envStr("RERANK_MODEL", "gpt-4o-mini"),
		RerankTimeout: envDuration("RERANK_TIMEOUT", 15*time.Second),

		ClusterTargetSize:     envInt("CLUSTER_TARGET_SIZE", 20),
		MinClusters:           envInt("CLUSTER_MIN", 2),
		MaxClusters:           envInt("CLUSTER_MAX", 50),
		MinItemsForClustering: envInt("CLUSTER_MIN_ITEMS", 10),
		ClusterSearchWidth:    envInt("CLUSTER_SEARCH_WIDTH", 5),
		RebuildThreshold:      envInt("CLUSTER_REBUILD_THRESHOLD", 200),
		RebuildInterval:       envDuration("CLUSTER_REBUILD_INTERVAL", 6*time.Hour),
		RebuildCheckInterval:  envDuration("CLUSTER_CHECK_INTERVAL", time.Minute),
		StaleHardLimit:        envDuration("CLUSTER_STALE_HARD_LIMIT", 24*time.Hour),

		MinInteractions: envInt("PREF_MIN_INTERACTIONS", 5),
		RecomputeBatch:  envInt("PREF_RECOMPUTE_BATCH", 10),
		SweepInterval:   envDuration("PREF_SWEEP_INTERVAL", 5*time.Minute),

		ExperimentSalt: envStr("EXPERIMENT_SALT", "pharos-exp-v1"),

		RankRateLimit: envInt("RANK_RATE_LIMIT", 120),
		RateWindow:    time.Minute,
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if c.EmbeddingBackend == "openai" && c.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai embedding backend")
	}

	return c, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
