package experiment

import (
	"context"
	"encoding/json"

	"github.com/halcyonlabs/pharos/internal/store"
)

// PGStore adapts the Postgres store to the manager's persistence surface.
type PGStore struct {
	db *store.DB
}

// NewPGStore wraps the database for experiment persistence.
func NewPGStore(db *store.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetAssignment(ctx context.Context, userID, version int64) (*store.ExperimentAssignment, error) {
	return store.GetAssignment(ctx, s.db.DBTX(), userID, version)
}

func (s *PGStore) PutAssignment(ctx context.Context, a *store.ExperimentAssignment) error {
	return store.PutAssignment(ctx, s.db.DBTX(), a)
}

func (s *PGStore) SaveConfig(ctx context.Context, raw json.RawMessage) (int64, error) {
	return store.SaveExperimentConfig(ctx, s.db.DBTX(), raw)
}

func (s *PGStore) LoadLatestConfig(ctx context.Context) (json.RawMessage, int64, error) {
	return store.LoadLatestExperimentConfig(ctx, s.db.DBTX())
}

func (s *PGStore) VariantSummaries(ctx context.Context, version int64) ([]store.VariantSummary, error) {
	return store.VariantSummaries(ctx, s.db.DBTX(), version)
}
