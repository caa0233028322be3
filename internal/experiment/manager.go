package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/halcyonlabs/pharos/internal/metrics"
	"github.com/halcyonlabs/pharos/internal/store"
)

// Store persists assignments and published configs.
type Store interface {
	GetAssignment(ctx context.Context, userID, version int64) (*store.ExperimentAssignment, error)
	PutAssignment(ctx context.Context, a *store.ExperimentAssignment) error
	SaveConfig(ctx context.Context, raw json.RawMessage) (int64, error)
	LoadLatestConfig(ctx context.Context) (json.RawMessage, int64, error)
	VariantSummaries(ctx context.Context, version int64) ([]store.VariantSummary, error)
}

// Manager owns the active experiment config and variant assignment. The
// config is read-shared and swapped whole on publish; requests in flight keep
// the snapshot they started with.
type Manager struct {
	data    Store
	salt    string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	cfg     Config
	version int64
}

// NewManager creates a manager running the default config at version 1. Call
// LoadPersisted before serving to pick up the last published config.
func NewManager(data Store, salt string, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		data:    data,
		salt:    salt,
		metrics: m,
		logger:  logger,
		cfg:     DefaultConfig(),
		version: 1,
	}
}

// LoadPersisted installs the newest published config, if any.
func (mgr *Manager) LoadPersisted(ctx context.Context) error {
	raw, version, err := mgr.data.LoadLatestConfig(ctx)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil // keep defaults
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("decoding persisted config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("persisted config invalid: %w", err)
	}
	mgr.mu.Lock()
	mgr.cfg = cfg
	mgr.version = version
	mgr.mu.Unlock()
	mgr.logger.Info("experiment config loaded", "name", cfg.Name, "version", version)
	return nil
}

// Snapshot returns the active config and its version.
func (mgr *Manager) Snapshot() (Config, int64) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.cfg, mgr.version
}

// Publish validates, persists, and activates a new config version. Existing
// assignments for prior versions are untouched.
func (mgr *Manager) Publish(ctx context.Context, cfg Config) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encoding config: %w", err)
	}
	version, err := mgr.data.SaveConfig(ctx, raw)
	if err != nil {
		return 0, err
	}

	mgr.mu.Lock()
	mgr.cfg = cfg
	mgr.version = version
	mgr.mu.Unlock()

	mgr.logger.Info("experiment config published", "name", cfg.Name, "version", version)
	return version, nil
}

// Assign returns the user's variant for the active config version. The first
// call for a (user, version) pair persists the bucketed assignment; later
// calls return the stored one.
func (mgr *Manager) Assign(ctx context.Context, userID int64) (Variant, error) {
	cfg, version := mgr.Snapshot()
	if !cfg.Enabled {
		return cfg.Control(), nil
	}

	existing, err := mgr.data.GetAssignment(ctx, userID, version)
	if err != nil && !errors.Is(err, store.ErrNoAssignment) {
		return Variant{}, fmt.Errorf("loading assignment: %w", err)
	}
	if existing != nil {
		if v, ok := cfg.variant(existing.Variant); ok {
			return v, nil
		}
		// Variant vanished from a republished config under the same version;
		// impossible through Publish, but fail safe to control.
		return cfg.Control(), nil
	}

	v := cfg.bucket(userID, mgr.salt, version)
	if err := mgr.data.PutAssignment(ctx, &store.ExperimentAssignment{
		UserID:        userID,
		Variant:       v.Name,
		ConfigVersion: version,
	}); err != nil {
		return Variant{}, fmt.Errorf("persisting assignment: %w", err)
	}
	return v, nil
}

// ParamsFor resolves the active ranking parameters for a user.
func (mgr *Manager) ParamsFor(ctx context.Context, userID int64) (Params, string, error) {
	v, err := mgr.Assign(ctx, userID)
	if err != nil {
		return Params{}, "", err
	}
	return v.Params, v.Name, nil
}

// DislikeWeightFor is a convenience for collaborators that only need the
// weight and treat assignment errors as the default.
func (mgr *Manager) DislikeWeightFor(userID int64) float64 {
	v, err := mgr.Assign(context.Background(), userID)
	if err != nil {
		cfg, _ := mgr.Snapshot()
		return cfg.Control().Params.DislikeWeight
	}
	return v.Params.DislikeWeight
}

// RecordOutcome counts an ingested interaction against the user's variant.
// Analytics only; never affects ranking.
func (mgr *Manager) RecordOutcome(ctx context.Context, userID int64, kind string) {
	v, err := mgr.Assign(ctx, userID)
	if err != nil {
		mgr.logger.Warn("outcome not attributed", "user", userID, "error", err)
		return
	}
	if mgr.metrics != nil {
		mgr.metrics.Interactions.WithLabelValues(v.Name, kind).Inc()
	}
}

// Results reports per-variant outcome aggregates for the active version.
func (mgr *Manager) Results(ctx context.Context) (map[string]any, error) {
	cfg, version := mgr.Snapshot()
	summaries, err := mgr.data.VariantSummaries(ctx, version)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":     cfg.Name,
		"enabled":  cfg.Enabled,
		"version":  version,
		"variants": summaries,
	}, nil
}

// bucket maps a user into a variant by walking cumulative weights with a
// stable hash. Identical inputs always land in the identical variant.
func (c Config) bucket(userID int64, salt string, version int64) Variant {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s:%d", userID, salt, version)
	slot := int(h.Sum64() % 100)

	cumulative := 0
	for _, v := range c.Variants {
		cumulative += v.Weight
		if slot < cumulative {
			return v
		}
	}
	return c.Control()
}

func (c Config) variant(name string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
