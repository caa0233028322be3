package cluster

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyonlabs/pharos/internal/store"
)

// PGPersister writes finished generations to Postgres, stamping member items
// with their new cluster assignment in the same transaction.
type PGPersister struct {
	db   *store.DB
	keep int
}

// NewPGPersister creates a generation persister that retains the newest keep
// generations.
func NewPGPersister(db *store.DB, keep int) *PGPersister {
	if keep <= 0 {
		keep = 2
	}
	return &PGPersister{db: db, keep: keep}
}

// SaveGeneration persists gen and returns the database-assigned version.
func (p *PGPersister) SaveGeneration(ctx context.Context, gen *Generation) (int64, error) {
	saved := &store.ClusterGeneration{
		ItemCount:     gen.ItemCount,
		BuildDuration: gen.BuildDuration.Seconds(),
	}
	for i, centroid := range gen.Centroids {
		saved.Clusters = append(saved.Clusters, store.PersistedCluster{
			Ordinal:  i,
			Centroid: pgvector.NewVector(centroid),
			Members:  gen.Members[i],
		})
	}

	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		return store.SaveClusterGeneration(ctx, tx, saved)
	})
	if err != nil {
		return 0, err
	}

	// Old generations are dead weight once the swap lands; pruning failures
	// are not worth failing the rebuild over.
	_ = store.PruneGenerations(ctx, p.db.DBTX(), p.keep)

	return saved.Version, nil
}

// LoadLatest restores the newest persisted generation, if any.
func (p *PGPersister) LoadLatest(ctx context.Context) (*Generation, error) {
	saved, err := store.LoadLatestGeneration(ctx, p.db.DBTX())
	if err != nil {
		return nil, err
	}
	return generationFromStored(saved), nil
}

func generationFromStored(saved *store.ClusterGeneration) *Generation {
	gen := &Generation{
		Version:       saved.Version,
		BuiltAt:       saved.BuiltAt,
		ItemCount:     saved.ItemCount,
		BuildDuration: time.Duration(saved.BuildDuration * float64(time.Second)),
	}
	for _, c := range saved.Clusters {
		gen.Centroids = append(gen.Centroids, c.Centroid.Slice())
		gen.Members = append(gen.Members, c.Members)
	}
	return gen
}
