// Package cluster partitions the indexed item corpus into centroid-based
// groups so nearest-neighbor search stays bounded as the corpus grows.
//
// Clustering is generational: a rebuild produces a complete new generation
// which is swapped in atomically; readers holding the prior generation keep
// using it until they finish. Queries prune to the nearest centroids and fall
// back to brute force whenever the index is missing, too small, or stale
// beyond the hard limit — correctness is never traded for speed.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/vec"
)

// Config tunes clustering and rebuild policy.
type Config struct {
	TargetSize       int           // desired items per cluster; k = items/TargetSize clamped
	MinClusters      int
	MaxClusters      int
	MinItems         int           // below this, queries brute-force
	SearchWidth      int           // nearest centroids examined per query
	RebuildThreshold int           // upserts since build that mark the generation stale
	RebuildInterval  time.Duration // max age before a rebuild is due
	StaleHardLimit   time.Duration // beyond this age, queries bypass the generation
	Seed             int64
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		TargetSize:       20,
		MinClusters:      2,
		MaxClusters:      50,
		MinItems:         10,
		SearchWidth:      5,
		RebuildThreshold: 200,
		RebuildInterval:  6 * time.Hour,
		StaleHardLimit:   24 * time.Hour,
		Seed:             42,
	}
}

// Generation is one immutable clustering of the corpus.
type Generation struct {
	Version       int64
	BuiltAt       time.Time
	ItemCount     int
	BuildDuration time.Duration
	Centroids     [][]float32
	Members       [][]uuid.UUID // parallel to Centroids
}

// Persister durably records a finished generation. Optional; a nil persister
// keeps generations in memory only.
type Persister interface {
	SaveGeneration(ctx context.Context, gen *Generation) (version int64, err error)
}

// Diagnostics is the administrative view of the cluster index.
type Diagnostics struct {
	Version       int64     `json:"version"`
	ClusterCount  int       `json:"cluster_count"`
	ItemCount     int       `json:"item_count"`
	Sizes         []int     `json:"sizes"`
	BuiltAt       time.Time `json:"built_at"`
	BuildDuration float64   `json:"build_duration_seconds"`
	Rebuilding    bool      `json:"rebuilding"`
	PendingItems  int64     `json:"pending_items"`
}

// Index is the cluster index. Safe for concurrent use; rebuilds are
// single-writer and never block readers.
type Index struct {
	vectors index.Index
	persist Persister
	cfg     Config
	logger  *slog.Logger

	mu  sync.RWMutex
	gen *Generation

	rebuilding      atomic.Bool
	addedSinceBuild atomic.Int64
	versionCounter  atomic.Int64
}

// New creates a cluster index over the given vector index.
func New(vectors index.Index, persist Persister, cfg Config, logger *slog.Logger) *Index {
	if cfg.SearchWidth <= 0 {
		cfg.SearchWidth = DefaultConfig().SearchWidth
	}
	return &Index{vectors: vectors, persist: persist, cfg: cfg, logger: logger}
}

// Restore installs a previously persisted generation, for warm start.
func (x *Index) Restore(gen *Generation) {
	x.mu.Lock()
	x.gen = gen
	x.mu.Unlock()
	x.versionCounter.Store(gen.Version)
}

// NoteUpsert records that an item vector was added or replaced since the last
// rebuild. Feeds the staleness trigger.
func (x *Index) NoteUpsert() {
	x.addedSinceBuild.Add(1)
}

// RebuildDue reports whether staleness criteria ask for a rebuild.
func (x *Index) RebuildDue() bool {
	if int(x.addedSinceBuild.Load()) >= x.cfg.RebuildThreshold {
		return true
	}
	gen := x.generation()
	if gen == nil {
		return true
	}
	return time.Since(gen.BuiltAt) >= x.cfg.RebuildInterval
}

// Rebuild runs one clustering pass over all indexed vectors and swaps the new
// generation in. At most one rebuild runs at a time; a concurrent call
// returns ErrRebuildRunning.
func (x *Index) Rebuild(ctx context.Context) error {
	if !x.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildRunning
	}
	defer x.rebuilding.Store(false)

	start := time.Now()
	entries, err := x.vectors.All(ctx)
	if err != nil {
		return fmt.Errorf("loading vectors: %w", err)
	}
	pending := x.addedSinceBuild.Load()

	if len(entries) < x.cfg.MinItems {
		// Consume the pending upserts anyway, or the staleness trigger would
		// refire on every check while the corpus stays undersized.
		x.addedSinceBuild.Add(-pending)
		x.logger.Info("skipping cluster rebuild, corpus too small", "items", len(entries), "min", x.cfg.MinItems)
		return nil
	}

	k := len(entries) / x.cfg.TargetSize
	if k < x.cfg.MinClusters {
		k = x.cfg.MinClusters
	}
	if k > x.cfg.MaxClusters {
		k = x.cfg.MaxClusters
	}

	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}

	centroids, assignments := kmeans(vectors, k, x.cfg.Seed)

	members := make([][]uuid.UUID, len(centroids))
	for i, a := range assignments {
		members[a] = append(members[a], entries[i].ItemID)
	}
	for _, m := range members {
		sort.Slice(m, func(i, j int) bool { return m[i].String() < m[j].String() })
	}

	gen := &Generation{
		Version:       x.versionCounter.Add(1),
		BuiltAt:       time.Now(),
		ItemCount:     len(entries),
		BuildDuration: time.Since(start),
		Centroids:     centroids,
		Members:       members,
	}

	if x.persist != nil {
		version, err := x.persist.SaveGeneration(ctx, gen)
		if err != nil {
			return fmt.Errorf("persisting generation: %w", err)
		}
		gen.Version = version
		x.versionCounter.Store(version)
	}

	x.mu.Lock()
	x.gen = gen
	x.mu.Unlock()
	// Only subtract work that was visible to this rebuild; upserts that raced
	// in since remain pending.
	x.addedSinceBuild.Add(-pending)

	x.logger.Info("cluster generation built",
		"version", gen.Version,
		"clusters", len(centroids),
		"items", gen.ItemCount,
		"duration", gen.BuildDuration.String(),
	)
	return nil
}

// Search finds the TopK items nearest to target. When a usable generation
// exists, the search is restricted to members of the nearest SearchWidth
// clusters; otherwise it scans the full index.
func (x *Index) Search(ctx context.Context, target []float32, topK int, channels []uuid.UUID) ([]index.Match, error) {
	gen := x.generation()
	if !x.usable(gen) {
		return x.vectors.Search(ctx, index.Query{Vector: target, TopK: topK, Channels: channels})
	}

	ordinals := nearestClusters(target, gen.Centroids, x.cfg.SearchWidth)
	var restrict []uuid.UUID
	for _, ord := range ordinals {
		restrict = append(restrict, gen.Members[ord]...)
	}
	if len(restrict) == 0 {
		return x.vectors.Search(ctx, index.Query{Vector: target, TopK: topK, Channels: channels})
	}

	return x.vectors.Search(ctx, index.Query{
		Vector:     target,
		TopK:       topK,
		Channels:   channels,
		RestrictTo: restrict,
	})
}

// Diagnostics returns the administrative view of the active generation.
func (x *Index) Diagnostics() Diagnostics {
	d := Diagnostics{
		Rebuilding:   x.rebuilding.Load(),
		PendingItems: x.addedSinceBuild.Load(),
	}
	gen := x.generation()
	if gen == nil {
		return d
	}
	d.Version = gen.Version
	d.ClusterCount = len(gen.Centroids)
	d.ItemCount = gen.ItemCount
	d.BuiltAt = gen.BuiltAt
	d.BuildDuration = gen.BuildDuration.Seconds()
	for _, m := range gen.Members {
		d.Sizes = append(d.Sizes, len(m))
	}
	return d
}

func (x *Index) generation() *Generation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.gen
}

// usable rejects generations that are absent, undersized, or older than the
// hard staleness limit.
func (x *Index) usable(gen *Generation) bool {
	if gen == nil || len(gen.Centroids) == 0 {
		return false
	}
	if gen.ItemCount < x.cfg.MinItems {
		return false
	}
	return time.Since(gen.BuiltAt) < x.cfg.StaleHardLimit
}

// nearestClusters returns the ordinals of the width centroids most similar to
// the target, best first.
func nearestClusters(target []float32, centroids [][]float32, width int) []int {
	type scored struct {
		ordinal    int
		similarity float64
	}
	all := make([]scored, len(centroids))
	for i, c := range centroids {
		all[i] = scored{ordinal: i, similarity: vec.Cosine(target, c)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].similarity != all[j].similarity {
			return all[i].similarity > all[j].similarity
		}
		return all[i].ordinal < all[j].ordinal
	})
	if width > len(all) {
		width = len(all)
	}
	ordinals := make([]int, width)
	for i := 0; i < width; i++ {
		ordinals[i] = all[i].ordinal
	}
	return ordinals
}
