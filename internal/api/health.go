// Package api provides HTTP handlers for the Pharos REST API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/halcyonlabs/pharos/internal/cluster"
	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/store"
)

// Connectable reports broker connectivity.
type Connectable interface {
	IsConnected() bool
}

// HealthHandler provides the health endpoint.
type HealthHandler struct {
	db        *store.DB
	vectors   index.Index
	clusters  *cluster.Index
	broker    Connectable
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler. broker may be nil when NATS
// is not configured.
func NewHealthHandler(db *store.DB, vectors index.Index, clusters *cluster.Index, broker Connectable) *HealthHandler {
	return &HealthHandler{
		db:        db,
		vectors:   vectors,
		clusters:  clusters,
		broker:    broker,
		startTime: time.Now(),
	}
}

// Health returns the service health status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "connected"
	if err := h.db.HealthCheck(ctx); err != nil {
		dbStatus = "disconnected"
	}

	natsStatus := "disconnected"
	if h.broker != nil && h.broker.IsConnected() {
		natsStatus = "connected"
	}

	itemCount, _ := h.vectors.Count(ctx)
	diag := h.clusters.Diagnostics()

	resp := map[string]any{
		"status":          "healthy",
		"database":        dbStatus,
		"nats":            natsStatus,
		"indexed_items":   itemCount,
		"cluster_version": diag.Version,
		"uptime_seconds":  int(time.Since(h.startTime).Seconds()),
	}
	if dbStatus == "disconnected" {
		resp["status"] = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
		"meta": map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeSuccess writes a standard success response.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"data": data,
		"meta": map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}
