package ingest

import (
	"context"

	"github.com/halcyonlabs/pharos/internal/store"
)

// PGStore adapts the Postgres store to the subscriber's persistence surface.
type PGStore struct {
	db *store.DB
}

// NewPGStore wraps the database for interaction writes.
func NewPGStore(db *store.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertInteraction(ctx context.Context, in *store.Interaction) error {
	return store.InsertInteraction(ctx, s.db.DBTX(), in)
}

func (s *PGStore) CountInteractions(ctx context.Context, userID int64) (int, error) {
	return store.CountInteractions(ctx, s.db.DBTX(), userID)
}
