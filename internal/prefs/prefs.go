// Package prefs derives per-user preference vectors from accumulated
// like/dislike history.
//
// A preference vector is mean(liked embeddings) − w·mean(disliked embeddings),
// L2-normalized, where w is the experiment-tunable dislike weight. Vectors are
// replaced wholesale on recompute; recomputation for one user is serialized,
// and readers keep using the last stored vector until the new one commits.
package prefs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/recoerr"
	"github.com/halcyonlabs/pharos/internal/store"
	"github.com/halcyonlabs/pharos/internal/vec"
)

// Config tunes eligibility and recompute batching.
type Config struct {
	MinInteractions int // eligibility threshold
	RecomputeBatch  int // interaction growth that marks a vector stale
}

// Store is the persistence surface the model needs.
type Store interface {
	ListInteractions(ctx context.Context, userID int64) ([]store.Interaction, error)
	CountInteractions(ctx context.Context, userID int64) (int, error)
	GetPreferenceVector(ctx context.Context, userID int64) (*store.PreferenceVector, error)
	UpsertPreferenceVector(ctx context.Context, pv *store.PreferenceVector) error
}

// Preference is a computed taste vector with its provenance.
type Preference struct {
	UserID           int64
	Vector           []float32
	InteractionCount int
	ComputedAt       time.Time
	Stale            bool
}

// Model computes and caches preference vectors.
type Model struct {
	data    Store
	vectors index.Index
	cfg     Config
	logger  *slog.Logger

	// one recompute in flight per user
	locks sync.Map // int64 → *sync.Mutex
}

// New creates a preference model.
func New(data Store, vectors index.Index, cfg Config, logger *slog.Logger) *Model {
	return &Model{data: data, vectors: vectors, cfg: cfg, logger: logger}
}

// Eligible reports whether the user has enough interactions, with the counts
// for the caller's response.
func (m *Model) Eligible(ctx context.Context, userID int64) (bool, int, error) {
	count, err := m.data.CountInteractions(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("counting interactions: %w", err)
	}
	return count >= m.cfg.MinInteractions, count, nil
}

// Current returns the user's stored preference vector, flagged stale when the
// interaction count has grown past the recompute batch since it was computed.
// Returns recoerr.ErrNotEligible when no vector exists.
func (m *Model) Current(ctx context.Context, userID int64) (*Preference, error) {
	pv, err := m.data.GetPreferenceVector(ctx, userID)
	if err != nil {
		if err == store.ErrNoPreferenceVector {
			return nil, recoerr.ErrNotEligible
		}
		return nil, fmt.Errorf("loading preference vector: %w", err)
	}

	count, err := m.data.CountInteractions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting interactions: %w", err)
	}

	return &Preference{
		UserID:           pv.UserID,
		Vector:           pv.Vector.Slice(),
		InteractionCount: pv.InteractionCount,
		ComputedAt:       pv.ComputedAt,
		Stale:            count-pv.InteractionCount >= m.cfg.RecomputeBatch,
	}, nil
}

// Recompute derives and stores a fresh preference vector. At most one
// recompute runs per user at a time; concurrent callers for the same user
// queue behind the in-flight one.
//
// A user below the eligibility threshold, or with no liked items at all,
// yields recoerr.ErrNotEligible — never a zero vector standing in for "no
// signal".
func (m *Model) Recompute(ctx context.Context, userID int64, dislikeWeight float64) (*Preference, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	interactions, err := m.data.ListInteractions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading interactions: %w", err)
	}
	if len(interactions) < m.cfg.MinInteractions {
		return nil, recoerr.ErrNotEligible
	}

	var likedIDs, dislikedIDs []uuid.UUID
	for _, in := range interactions {
		switch in.Kind {
		case store.KindLike:
			likedIDs = append(likedIDs, in.ItemID)
		case store.KindDislike:
			dislikedIDs = append(dislikedIDs, in.ItemID)
		}
		// Skips count toward eligibility but carry no preference signal.
	}
	if len(likedIDs) == 0 {
		return nil, recoerr.ErrNotEligible
	}

	embedded, err := m.vectors.Vectors(ctx, append(append([]uuid.UUID{}, likedIDs...), dislikedIDs...))
	if err != nil {
		return nil, err
	}

	liked := collect(embedded, likedIDs)
	disliked := collect(embedded, dislikedIDs)
	if len(liked) == 0 {
		return nil, recoerr.ErrNotEligible
	}

	vector := combine(liked, disliked, dislikeWeight)

	pv := &store.PreferenceVector{
		UserID:           userID,
		Vector:           toStored(vector),
		InteractionCount: len(interactions),
	}
	if err := m.data.UpsertPreferenceVector(ctx, pv); err != nil {
		return nil, fmt.Errorf("storing preference vector: %w", err)
	}

	m.logger.Info("preference vector recomputed",
		"user", userID,
		"interactions", len(interactions),
		"liked", len(liked),
		"disliked", len(disliked),
	)

	return &Preference{
		UserID:           userID,
		Vector:           vector,
		InteractionCount: len(interactions),
		ComputedAt:       pv.ComputedAt,
	}, nil
}

// combine builds mean(liked) − w·mean(disliked), normalized. With no disliked
// embeddings the dislike term is omitted entirely. A zero combined vector is
// left unnormalized.
func combine(liked, disliked [][]float32, dislikeWeight float64) []float32 {
	vector := vec.Mean(liked)
	if len(disliked) > 0 && dislikeWeight != 0 {
		vector = vec.Sub(vector, vec.Scale(vec.Mean(disliked), float32(dislikeWeight)))
	}
	return vec.Normalize(vector)
}

func (m *Model) userLock(userID int64) *sync.Mutex {
	actual, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func toStored(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}

func collect(embedded map[uuid.UUID][]float32, ids []uuid.UUID) [][]float32 {
	var out [][]float32
	for _, id := range ids {
		if v, ok := embedded[id]; ok {
			out = append(out, v)
		}
	}
	return out
}
