package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ItemVector pairs an item with its stored embedding and owning channel.
type ItemVector struct {
	ItemID    uuid.UUID
	ChannelID uuid.UUID
	Embedding pgvector.Vector
}

// ScoredItem is returned by nearest-neighbor queries.
type ScoredItem struct {
	ItemID     uuid.UUID `json:"item_id"`
	ChannelID  uuid.UUID `json:"channel_id"`
	Distance   float64   `json:"distance"`
	Similarity float64   `json:"similarity"`
}

// UpsertItemEmbedding stores or replaces the embedding for an item. Re-upserting
// the same item id overwrites the prior vector and metadata in place.
func UpsertItemEmbedding(ctx context.Context, db DBTX, itemID, channelID uuid.UUID, embedding pgvector.Vector, model string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO pharos_item_embeddings (item_id, channel_id, embedding, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model,
			updated_at = now()
	`, itemID, channelID, embedding, model)
	if err != nil {
		return fmt.Errorf("upsert embedding %s: %w", itemID, err)
	}
	return nil
}

// DeleteItemEmbedding removes an item's embedding.
func DeleteItemEmbedding(ctx context.Context, db DBTX, itemID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM pharos_item_embeddings WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete embedding %s: %w", itemID, err)
	}
	return nil
}

// GetItemEmbeddings fetches stored embeddings for a set of items. Items
// without embeddings are absent from the result.
func GetItemEmbeddings(ctx context.Context, db DBTX, itemIDs []uuid.UUID) (map[uuid.UUID]pgvector.Vector, error) {
	if len(itemIDs) == 0 {
		return map[uuid.UUID]pgvector.Vector{}, nil
	}
	rows, err := db.Query(ctx, `
		SELECT item_id, embedding FROM pharos_item_embeddings
		WHERE item_id = ANY($1)
	`, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]pgvector.Vector, len(itemIDs))
	for rows.Next() {
		var id uuid.UUID
		var emb pgvector.Vector
		if err := rows.Scan(&id, &emb); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		result[id] = emb
	}
	return result, rows.Err()
}

// NearestItems finds the top-N items nearest to the query embedding, ordered
// by ascending cosine distance with item id as the tiebreak. channelIDs and
// restrictTo narrow the candidate set when non-empty.
func NearestItems(ctx context.Context, db DBTX, embedding pgvector.Vector, limit int, channelIDs, restrictTo []uuid.UUID) ([]ScoredItem, error) {
	query := `
		SELECT item_id, channel_id, embedding <=> $1 AS distance
		FROM pharos_item_embeddings
		WHERE ($2::uuid[] IS NULL OR channel_id = ANY($2))
		  AND ($3::uuid[] IS NULL OR item_id = ANY($3))
		ORDER BY distance, item_id
		LIMIT $4
	`
	rows, err := db.Query(ctx, query, embedding, uuidArrayOrNil(channelIDs), uuidArrayOrNil(restrictTo), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest items: %w", err)
	}
	defer rows.Close()

	var result []ScoredItem
	for rows.Next() {
		var s ScoredItem
		if err := rows.Scan(&s.ItemID, &s.ChannelID, &s.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest: %w", err)
		}
		s.Similarity = 1.0 - s.Distance
		result = append(result, s)
	}
	return result, rows.Err()
}

// ListItemVectors returns every stored item embedding. Used by cluster rebuilds.
func ListItemVectors(ctx context.Context, db DBTX) ([]ItemVector, error) {
	rows, err := db.Query(ctx, `
		SELECT item_id, channel_id, embedding FROM pharos_item_embeddings
		ORDER BY item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list item vectors: %w", err)
	}
	defer rows.Close()

	var result []ItemVector
	for rows.Next() {
		var iv ItemVector
		if err := rows.Scan(&iv.ItemID, &iv.ChannelID, &iv.Embedding); err != nil {
			return nil, fmt.Errorf("scan item vector: %w", err)
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}

// CountItemEmbeddings returns the number of stored item embeddings.
func CountItemEmbeddings(ctx context.Context, db DBTX) (int, error) {
	var n int
	err := db.QueryRow(ctx, `SELECT COUNT(*) FROM pharos_item_embeddings`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// UpdateRelevanceScore caches a computed relevance score on an item.
func UpdateRelevanceScore(ctx context.Context, db DBTX, itemID uuid.UUID, score float64) error {
	_, err := db.Exec(ctx, `
		UPDATE pharos_items SET relevance_score = $1, updated_at = now()
		WHERE id = $2
	`, score, itemID)
	if err != nil {
		return fmt.Errorf("update relevance %s: %w", itemID, err)
	}
	return nil
}

// CachedRelevanceScores returns previously cached relevance scores for items
// in the given channels (or all items when channelIDs is empty), descending.
// Used as the degraded-mode fallback when the vector index is unreachable.
func CachedRelevanceScores(ctx context.Context, db DBTX, channelIDs []uuid.UUID, limit int) ([]ScoredItem, error) {
	rows, err := db.Query(ctx, `
		SELECT id, channel_id, relevance_score
		FROM pharos_items
		WHERE relevance_score IS NOT NULL
		  AND ($1::uuid[] IS NULL OR channel_id = ANY($1))
		ORDER BY relevance_score DESC, id
		LIMIT $2
	`, uuidArrayOrNil(channelIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("cached scores: %w", err)
	}
	defer rows.Close()

	var result []ScoredItem
	for rows.Next() {
		var s ScoredItem
		var score float64
		if err := rows.Scan(&s.ItemID, &s.ChannelID, &score); err != nil {
			return nil, fmt.Errorf("scan cached score: %w", err)
		}
		s.Similarity = score
		result = append(result, s)
	}
	return result, rows.Err()
}

// ItemTexts returns the display text for a set of items, keyed by id. Items
// without a row are absent from the result.
func ItemTexts(ctx context.Context, db DBTX, itemIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(itemIDs) == 0 {
		return map[uuid.UUID]string{}, nil
	}
	rows, err := db.Query(ctx, `
		SELECT id, concat_ws(' ', title, summary)
		FROM pharos_items
		WHERE id = ANY($1)
	`, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("item texts: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]string, len(itemIDs))
	for rows.Next() {
		var id uuid.UUID
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scan item text: %w", err)
		}
		result[id] = text
	}
	return result, rows.Err()
}

func uuidArrayOrNil(ids []uuid.UUID) any {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
