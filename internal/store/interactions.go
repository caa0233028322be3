package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Interaction kinds as recorded by the ingestion layer.
const (
	KindLike    = "like"
	KindDislike = "dislike"
	KindSkip    = "skip"
)

// Interaction is a single user reaction to an item. The log is append-only
// and owned by the ingestion layer; the core only reads it.
type Interaction struct {
	UserID    int64     `json:"user_id"`
	ItemID    uuid.UUID `json:"item_id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertInteraction appends an interaction. A repeated reaction to the same
// item replaces the previous kind rather than creating a duplicate row.
func InsertInteraction(ctx context.Context, db DBTX, in *Interaction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO pharos_interactions (user_id, item_id, kind, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			created_at = EXCLUDED.created_at
	`, in.UserID, in.ItemID, in.Kind, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// CountInteractions returns the number of recorded interactions for a user.
func CountInteractions(ctx context.Context, db DBTX, userID int64) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM pharos_interactions WHERE user_id = $1
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

// ListInteractions returns a user's interactions ordered oldest first.
func ListInteractions(ctx context.Context, db DBTX, userID int64) ([]Interaction, error) {
	rows, err := db.Query(ctx, `
		SELECT user_id, item_id, kind, created_at
		FROM pharos_interactions
		WHERE user_id = $1
		ORDER BY created_at, item_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var result []Interaction
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.UserID, &in.ItemID, &in.Kind, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

// InteractedItemIDs returns the ids of items the user has already reacted to.
func InteractedItemIDs(ctx context.Context, db DBTX, userID int64) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `
		SELECT item_id FROM pharos_interactions WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("interacted items: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentInteractionTexts returns the display text of the user's most recent
// interactions of a given kind, newest first. Used to build rerank prompts.
func RecentInteractionTexts(ctx context.Context, db DBTX, userID int64, kind string, limit int) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT concat_ws(' ', it.title, it.summary)
		FROM pharos_interactions i
		JOIN pharos_items it ON it.id = i.item_id
		WHERE i.user_id = $1 AND i.kind = $2
		ORDER BY i.created_at DESC, i.item_id
		LIMIT $3
	`, userID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("recent interaction texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan interaction text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// UsersWithStalePreferences returns users whose interaction count has grown
// by at least batch since their preference vector was computed, including
// users above the eligibility threshold with no vector at all.
func UsersWithStalePreferences(ctx context.Context, db DBTX, batch, minInteractions, limit int) ([]int64, error) {
	rows, err := db.Query(ctx, `
		SELECT i.user_id
		FROM pharos_interactions i
		LEFT JOIN pharos_preference_vectors pv ON pv.user_id = i.user_id
		GROUP BY i.user_id, pv.interaction_count
		HAVING COUNT(*) >= $2
		   AND (pv.interaction_count IS NULL OR COUNT(*) - pv.interaction_count >= $1)
		ORDER BY i.user_id
		LIMIT $3
	`, batch, minInteractions, limit)
	if err != nil {
		return nil, fmt.Errorf("stale preferences: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
