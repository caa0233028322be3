package prefs

import (
	"context"

	"github.com/halcyonlabs/pharos/internal/store"
)

// PGStore adapts the Postgres store to the model's persistence surface.
type PGStore struct {
	db *store.DB
}

// NewPGStore wraps the database for preference persistence.
func NewPGStore(db *store.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) ListInteractions(ctx context.Context, userID int64) ([]store.Interaction, error) {
	return store.ListInteractions(ctx, s.db.DBTX(), userID)
}

func (s *PGStore) CountInteractions(ctx context.Context, userID int64) (int, error) {
	return store.CountInteractions(ctx, s.db.DBTX(), userID)
}

func (s *PGStore) GetPreferenceVector(ctx context.Context, userID int64) (*store.PreferenceVector, error) {
	return store.GetPreferenceVector(ctx, s.db.DBTX(), userID)
}

func (s *PGStore) UpsertPreferenceVector(ctx context.Context, pv *store.PreferenceVector) error {
	return store.UpsertPreferenceVector(ctx, s.db.DBTX(), pv)
}

// StaleUsers returns users whose stored vector lags their interaction count
// by at least batch, including eligible users with no vector yet.
func (s *PGStore) StaleUsers(ctx context.Context, batch, minInteractions, limit int) ([]int64, error) {
	return store.UsersWithStalePreferences(ctx, s.db.DBTX(), batch, minInteractions, limit)
}
