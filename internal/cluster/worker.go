package cluster

import (
	"context"
	"errors"
	"time"
)

// ErrRebuildRunning is returned when a rebuild is requested while one is
// already in flight.
var ErrRebuildRunning = errors.New("cluster rebuild already running")

// RunRebuildLoop checks staleness on the given cadence and rebuilds when due.
// Runs until ctx is cancelled. Intended to be launched as a goroutine; user
// requests never wait on it.
func (x *Index) RunRebuildLoop(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	// Run once immediately so a fresh deployment builds its first generation
	// without waiting a full interval.
	x.maybeRebuild(ctx)

	for {
		select {
		case <-ctx.Done():
			x.logger.Info("cluster rebuild loop shutting down")
			return
		case <-ticker.C:
			x.maybeRebuild(ctx)
		}
	}
}

func (x *Index) maybeRebuild(ctx context.Context) {
	if !x.RebuildDue() {
		return
	}
	if err := x.Rebuild(ctx); err != nil && !errors.Is(err, ErrRebuildRunning) {
		x.logger.Warn("cluster rebuild failed", "error", err)
	}
}
