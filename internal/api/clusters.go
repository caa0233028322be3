package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyonlabs/pharos/internal/cluster"
	"github.com/halcyonlabs/pharos/internal/metrics"
)

// ClusterHandler serves cluster index diagnostics and the manual rebuild
// trigger.
type ClusterHandler struct {
	clusters *cluster.Index
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewClusterHandler creates a new ClusterHandler.
func NewClusterHandler(clusters *cluster.Index, m *metrics.Metrics, logger *slog.Logger) *ClusterHandler {
	return &ClusterHandler{clusters: clusters, metrics: m, logger: logger}
}

// Status handles GET /api/v1/clusters/status.
func (h *ClusterHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.clusters.Diagnostics())
}

// Rebuild handles POST /api/v1/clusters/rebuild. The rebuild runs off the
// request path; a rebuild already in progress is reported, not queued.
func (h *ClusterHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if h.clusters.Diagnostics().Rebuilding {
		writeError(w, http.StatusConflict, "REBUILD_RUNNING", "A cluster rebuild is already in progress")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		err := h.clusters.Rebuild(ctx)
		switch {
		case err == cluster.ErrRebuildRunning:
			// Lost the race to another trigger; the running rebuild covers us.
		case err != nil:
			h.logger.Error("manual cluster rebuild failed", "error", err)
			if h.metrics != nil {
				h.metrics.ClusterRebuilds.WithLabelValues("error").Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.ClusterRebuilds.WithLabelValues("ok").Inc()
			}
		}
	}()

	writeSuccess(w, http.StatusAccepted, map[string]any{"started": true})
}
