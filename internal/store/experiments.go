package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ExperimentAssignment records the variant a user was bucketed into for one
// config version. Immutable once written for that version; publishing a new
// version permits reassignment.
type ExperimentAssignment struct {
	UserID        int64     `json:"user_id"`
	Variant       string    `json:"variant"`
	ConfigVersion int64     `json:"config_version"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// VariantSummary aggregates post-assignment outcomes for one variant.
type VariantSummary struct {
	Variant      string  `json:"variant"`
	Users        int     `json:"users"`
	Interactions int     `json:"interactions"`
	Likes        int     `json:"likes"`
	Dislikes     int     `json:"dislikes"`
	LikeRate     float64 `json:"like_rate"`
}

// ErrNoAssignment is returned when a user has no persisted assignment for the
// requested config version.
var ErrNoAssignment = errors.New("no experiment assignment")

// GetAssignment fetches the persisted assignment for (user, version).
func GetAssignment(ctx context.Context, db DBTX, userID, version int64) (*ExperimentAssignment, error) {
	a := &ExperimentAssignment{}
	err := db.QueryRow(ctx, `
		SELECT user_id, variant, config_version, assigned_at
		FROM pharos_experiment_assignments
		WHERE user_id = $1 AND config_version = $2
	`, userID, version).Scan(&a.UserID, &a.Variant, &a.ConfigVersion, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoAssignment
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %d: %w", userID, err)
	}
	return a, nil
}

// PutAssignment persists an assignment. A concurrent writer for the same
// (user, version) wins harmlessly: the hash is deterministic, so both writers
// carry the same variant.
func PutAssignment(ctx context.Context, db DBTX, a *ExperimentAssignment) error {
	return db.QueryRow(ctx, `
		INSERT INTO pharos_experiment_assignments (user_id, variant, config_version)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, config_version) DO UPDATE SET variant = pharos_experiment_assignments.variant
		RETURNING assigned_at
	`, a.UserID, a.Variant, a.ConfigVersion).Scan(&a.AssignedAt)
}

// SaveExperimentConfig publishes a new config version and returns it.
func SaveExperimentConfig(ctx context.Context, db DBTX, raw json.RawMessage) (int64, error) {
	var version int64
	err := db.QueryRow(ctx, `
		INSERT INTO pharos_experiment_configs (config)
		VALUES ($1)
		RETURNING version
	`, raw).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("save experiment config: %w", err)
	}
	return version, nil
}

// LoadLatestExperimentConfig returns the newest published config and its version.
func LoadLatestExperimentConfig(ctx context.Context, db DBTX) (json.RawMessage, int64, error) {
	var raw json.RawMessage
	var version int64
	err := db.QueryRow(ctx, `
		SELECT config, version FROM pharos_experiment_configs
		ORDER BY version DESC LIMIT 1
	`).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load experiment config: %w", err)
	}
	return raw, version, nil
}

// VariantSummaries aggregates interaction outcomes per variant for one config
// version. Counts only interactions recorded after the user's assignment, so
// calibration-phase reactions do not skew the comparison.
func VariantSummaries(ctx context.Context, db DBTX, version int64) ([]VariantSummary, error) {
	rows, err := db.Query(ctx, `
		SELECT a.variant,
		       COUNT(DISTINCT a.user_id) AS users,
		       COUNT(i.item_id) AS interactions,
		       COUNT(i.item_id) FILTER (WHERE i.kind = 'like') AS likes,
		       COUNT(i.item_id) FILTER (WHERE i.kind = 'dislike') AS dislikes
		FROM pharos_experiment_assignments a
		LEFT JOIN pharos_interactions i
		  ON i.user_id = a.user_id AND i.created_at > a.assigned_at
		WHERE a.config_version = $1
		GROUP BY a.variant
		ORDER BY a.variant
	`, version)
	if err != nil {
		return nil, fmt.Errorf("variant summaries: %w", err)
	}
	defer rows.Close()

	var result []VariantSummary
	for rows.Next() {
		var s VariantSummary
		if err := rows.Scan(&s.Variant, &s.Users, &s.Interactions, &s.Likes, &s.Dislikes); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if s.Interactions > 0 {
			s.LikeRate = float64(s.Likes) / float64(s.Interactions)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
