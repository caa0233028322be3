package index

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyonlabs/pharos/internal/recoerr"
	"github.com/halcyonlabs/pharos/internal/store"
)

// PG is the pgvector-backed index. Store failures are reported as
// recoerr.ErrIndexUnavailable so callers can enter degraded mode.
type PG struct {
	db    *store.DB
	model string
}

// NewPG creates a pgvector-backed index. model is recorded alongside each
// vector for provenance.
func NewPG(db *store.DB, model string) *PG {
	return &PG{db: db, model: model}
}

// Upsert stores or replaces an item's vector and channel.
func (p *PG) Upsert(ctx context.Context, itemID, channelID uuid.UUID, vector []float32) error {
	err := store.UpsertItemEmbedding(ctx, p.db.DBTX(), itemID, channelID, pgvector.NewVector(vector), p.model)
	if err != nil {
		return recoerr.IndexUnavailable(err)
	}
	return nil
}

// Delete removes an item's vector.
func (p *PG) Delete(ctx context.Context, itemID uuid.UUID) error {
	if err := store.DeleteItemEmbedding(ctx, p.db.DBTX(), itemID); err != nil {
		return recoerr.IndexUnavailable(err)
	}
	return nil
}

// Search runs a cosine nearest-neighbor query in the database.
func (p *PG) Search(ctx context.Context, q Query) ([]Match, error) {
	scored, err := store.NearestItems(ctx, p.db.DBTX(), pgvector.NewVector(q.Vector), q.TopK, q.Channels, q.RestrictTo)
	if err != nil {
		return nil, recoerr.IndexUnavailable(err)
	}
	matches := make([]Match, len(scored))
	for i, s := range scored {
		matches[i] = Match{ItemID: s.ItemID, ChannelID: s.ChannelID, Similarity: s.Similarity}
	}
	return matches, nil
}

// Vectors fetches stored vectors for a set of ids.
func (p *PG) Vectors(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID][]float32, error) {
	stored, err := store.GetItemEmbeddings(ctx, p.db.DBTX(), itemIDs)
	if err != nil {
		return nil, recoerr.IndexUnavailable(err)
	}
	result := make(map[uuid.UUID][]float32, len(stored))
	for id, v := range stored {
		result[id] = v.Slice()
	}
	return result, nil
}

// All returns every stored entry.
func (p *PG) All(ctx context.Context) ([]Entry, error) {
	vectors, err := store.ListItemVectors(ctx, p.db.DBTX())
	if err != nil {
		return nil, recoerr.IndexUnavailable(err)
	}
	entries := make([]Entry, len(vectors))
	for i, v := range vectors {
		entries[i] = Entry{ItemID: v.ItemID, ChannelID: v.ChannelID, Vector: v.Embedding.Slice()}
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (p *PG) Count(ctx context.Context) (int, error) {
	n, err := store.CountItemEmbeddings(ctx, p.db.DBTX())
	if err != nil {
		return 0, recoerr.IndexUnavailable(err)
	}
	return n, nil
}
