// Package index stores and queries per-item embeddings with their owning
// channel. Two implementations exist: the pgvector-backed index used in
// production and an in-memory index for development and tests.
package index

import (
	"context"

	"github.com/google/uuid"
)

// Entry is a stored item vector with its metadata.
type Entry struct {
	ItemID    uuid.UUID
	ChannelID uuid.UUID
	Vector    []float32
}

// Match is one nearest-neighbor result.
type Match struct {
	ItemID     uuid.UUID
	ChannelID  uuid.UUID
	Similarity float64
}

// Query describes a nearest-neighbor search. Channels and RestrictTo narrow
// the candidate set when non-empty.
type Query struct {
	Vector     []float32
	TopK       int
	Channels   []uuid.UUID
	RestrictTo []uuid.UUID
}

// Index is the vector index consumed by the cluster index and the ranker.
// Results are ordered by descending similarity with item id ascending as the
// tiebreak. Unreachable backing stores surface as recoerr.ErrIndexUnavailable.
type Index interface {
	// Upsert stores or replaces an item's vector and metadata. Idempotent:
	// re-upserting an id never creates a duplicate entry.
	Upsert(ctx context.Context, itemID, channelID uuid.UUID, vector []float32) error

	// Delete removes an item's vector. Deleting an absent id is a no-op.
	Delete(ctx context.Context, itemID uuid.UUID) error

	// Search returns up to TopK matches for the query vector.
	Search(ctx context.Context, q Query) ([]Match, error)

	// Vectors fetches stored vectors for a set of ids; absent ids are omitted.
	Vectors(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID][]float32, error)

	// All returns every stored entry. Used by cluster rebuilds.
	All(ctx context.Context) ([]Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
}
