package ranker

import (
	"context"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/store"
)

// PGStore adapts the Postgres store to the ranker's persistence surface.
type PGStore struct {
	db *store.DB
}

// NewPGStore wraps the database for ranking queries.
func NewPGStore(db *store.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InteractedItemIDs(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	return store.InteractedItemIDs(ctx, s.db.DBTX(), userID)
}

func (s *PGStore) ItemTexts(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	return store.ItemTexts(ctx, s.db.DBTX(), itemIDs)
}

func (s *PGStore) RecentInteractionTexts(ctx context.Context, userID int64, kind string, limit int) ([]string, error) {
	return store.RecentInteractionTexts(ctx, s.db.DBTX(), userID, kind, limit)
}

func (s *PGStore) UpdateRelevanceScore(ctx context.Context, itemID uuid.UUID, score float64) error {
	return store.UpdateRelevanceScore(ctx, s.db.DBTX(), itemID, score)
}

func (s *PGStore) CachedRelevanceScores(ctx context.Context, channelIDs []uuid.UUID, limit int) ([]store.ScoredItem, error) {
	return store.CachedRelevanceScores(ctx, s.db.DBTX(), channelIDs, limit)
}
