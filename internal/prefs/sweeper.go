package prefs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/halcyonlabs/pharos/internal/recoerr"
)

// sweepBatchLimit bounds how many users one sweep pass recomputes.
const sweepBatchLimit = 100

// StaleSource lists users due for a preference recompute.
type StaleSource interface {
	StaleUsers(ctx context.Context, batch, minInteractions, limit int) ([]int64, error)
}

// Sweeper recomputes stale preference vectors on a background cadence so
// ranking requests rarely pay for a recompute inline. dislikeWeightFor
// resolves the experiment-assigned weight per user.
type Sweeper struct {
	model          *Model
	source         StaleSource
	dislikeWeights func(userID int64) float64
	logger         *slog.Logger
}

// NewSweeper creates a background preference sweeper.
func NewSweeper(model *Model, source StaleSource, dislikeWeights func(userID int64) float64, logger *slog.Logger) *Sweeper {
	return &Sweeper{model: model, source: source, dislikeWeights: dislikeWeights, logger: logger}
}

// Run sweeps on the given cadence until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.sweep(ctx); err != nil {
		s.logger.Warn("preference sweep initial run", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("preference sweeper shutting down")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Warn("preference sweep", "error", err)
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	users, err := s.source.StaleUsers(ctx, s.model.cfg.RecomputeBatch, s.model.cfg.MinInteractions, sweepBatchLimit)
	if err != nil {
		return err
	}

	recomputed := 0
	for _, userID := range users {
		_, err := s.model.Recompute(ctx, userID, s.dislikeWeights(userID))
		switch {
		case err == nil:
			recomputed++
		case errors.Is(err, recoerr.ErrNotEligible):
			// Likes-free history; nothing to compute yet.
		default:
			s.logger.Warn("preference recompute", "user", userID, "error", err)
		}
	}

	if recomputed > 0 {
		s.logger.Info("preference vectors refreshed", "count", recomputed)
	}
	return nil
}
