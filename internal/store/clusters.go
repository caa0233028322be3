package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ClusterGeneration is one complete clustering of the item corpus. Generations
// are written whole and never mutated; membership is a versioned mapping from
// generation to item ids, not a pointer graph.
type ClusterGeneration struct {
	Version       int64     `json:"version"`
	BuiltAt       time.Time `json:"built_at"`
	ItemCount     int       `json:"item_count"`
	BuildDuration float64   `json:"build_duration_seconds"`
	Clusters      []PersistedCluster
}

// PersistedCluster is one cluster within a generation.
type PersistedCluster struct {
	Ordinal  int             `json:"ordinal"`
	Centroid pgvector.Vector `json:"-"`
	Members  []uuid.UUID     `json:"members"`
}

// ErrNoGeneration is returned when no cluster generation has been built yet.
var ErrNoGeneration = errors.New("no cluster generation")

// SaveClusterGeneration persists a freshly built generation and stamps each
// member item with its new cluster assignment. Runs inside one transaction so
// readers never observe a partially written generation.
func SaveClusterGeneration(ctx context.Context, tx pgx.Tx, gen *ClusterGeneration) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO pharos_cluster_generations (item_count, cluster_count, build_duration_seconds)
		VALUES ($1, $2, $3)
		RETURNING version, built_at
	`, gen.ItemCount, len(gen.Clusters), gen.BuildDuration).Scan(&gen.Version, &gen.BuiltAt)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}

	for _, c := range gen.Clusters {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pharos_clusters (generation, ordinal, centroid, size)
			VALUES ($1, $2, $3, $4)
		`, gen.Version, c.Ordinal, c.Centroid, len(c.Members)); err != nil {
			return fmt.Errorf("insert cluster %d: %w", c.Ordinal, err)
		}
		for _, itemID := range c.Members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO pharos_cluster_members (generation, ordinal, item_id)
				VALUES ($1, $2, $3)
			`, gen.Version, c.Ordinal, itemID); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE pharos_items SET cluster_id = $1, cluster_version = $2, updated_at = now()
			WHERE id = ANY($3)
		`, c.Ordinal, gen.Version, c.Members); err != nil {
			return fmt.Errorf("stamp items: %w", err)
		}
	}
	return nil
}

// LoadLatestGeneration reads the most recent generation with its clusters and
// memberships, for warm start after a restart.
func LoadLatestGeneration(ctx context.Context, db DBTX) (*ClusterGeneration, error) {
	gen := &ClusterGeneration{}
	err := db.QueryRow(ctx, `
		SELECT version, built_at, item_count, build_duration_seconds
		FROM pharos_cluster_generations
		ORDER BY version DESC LIMIT 1
	`).Scan(&gen.Version, &gen.BuiltAt, &gen.ItemCount, &gen.BuildDuration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoGeneration
	}
	if err != nil {
		return nil, fmt.Errorf("load generation: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT ordinal, centroid FROM pharos_clusters
		WHERE generation = $1 ORDER BY ordinal
	`, gen.Version)
	if err != nil {
		return nil, fmt.Errorf("load clusters: %w", err)
	}
	defer rows.Close()

	byOrdinal := map[int]*PersistedCluster{}
	for rows.Next() {
		var c PersistedCluster
		if err := rows.Scan(&c.Ordinal, &c.Centroid); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		gen.Clusters = append(gen.Clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range gen.Clusters {
		byOrdinal[gen.Clusters[i].Ordinal] = &gen.Clusters[i]
	}

	memberRows, err := db.Query(ctx, `
		SELECT ordinal, item_id FROM pharos_cluster_members
		WHERE generation = $1
	`, gen.Version)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var ordinal int
		var itemID uuid.UUID
		if err := memberRows.Scan(&ordinal, &itemID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if c, ok := byOrdinal[ordinal]; ok {
			c.Members = append(c.Members, itemID)
		}
	}
	return gen, memberRows.Err()
}

// PruneGenerations deletes all but the newest keep generations. The active
// generation is held in memory, so pruning never disturbs in-flight queries.
func PruneGenerations(ctx context.Context, db DBTX, keep int) error {
	_, err := db.Exec(ctx, `
		DELETE FROM pharos_cluster_generations
		WHERE version NOT IN (
			SELECT version FROM pharos_cluster_generations
			ORDER BY version DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("prune generations: %w", err)
	}
	return nil
}
