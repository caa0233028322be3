package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// PreferenceVector is a user's computed taste vector. There is at most one
// row per user; recomputation always replaces it wholesale.
type PreferenceVector struct {
	UserID           int64           `json:"user_id"`
	Vector           pgvector.Vector `json:"-"`
	InteractionCount int             `json:"interaction_count"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// ErrNoPreferenceVector is returned when a user has no stored vector yet.
var ErrNoPreferenceVector = errors.New("no preference vector")

// UpsertPreferenceVector replaces the user's stored preference vector.
func UpsertPreferenceVector(ctx context.Context, db DBTX, pv *PreferenceVector) error {
	return db.QueryRow(ctx, `
		INSERT INTO pharos_preference_vectors (user_id, vector, interaction_count, computed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET
			vector = EXCLUDED.vector,
			interaction_count = EXCLUDED.interaction_count,
			computed_at = now()
		RETURNING computed_at
	`, pv.UserID, pv.Vector, pv.InteractionCount).Scan(&pv.ComputedAt)
}

// GetPreferenceVector fetches the user's stored preference vector.
func GetPreferenceVector(ctx context.Context, db DBTX, userID int64) (*PreferenceVector, error) {
	pv := &PreferenceVector{}
	err := db.QueryRow(ctx, `
		SELECT user_id, vector, interaction_count, computed_at
		FROM pharos_preference_vectors WHERE user_id = $1
	`, userID).Scan(&pv.UserID, &pv.Vector, &pv.InteractionCount, &pv.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPreferenceVector
	}
	if err != nil {
		return nil, fmt.Errorf("get preference vector %d: %w", userID, err)
	}
	return pv, nil
}
