package api

import (
	"encoding/json"
	"net/http"

	"github.com/halcyonlabs/pharos/internal/experiment"
)

// ExperimentHandler serves the experiment configuration and results.
type ExperimentHandler struct {
	experiments *experiment.Manager
}

// NewExperimentHandler creates a new ExperimentHandler.
func NewExperimentHandler(experiments *experiment.Manager) *ExperimentHandler {
	return &ExperimentHandler{experiments: experiments}
}

// GetConfig handles GET /api/v1/experiment/config.
func (h *ExperimentHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, version := h.experiments.Snapshot()
	writeSuccess(w, http.StatusOK, map[string]any{
		"version": version,
		"config":  cfg,
	})
}

// PutConfig handles PUT /api/v1/experiment/config. Publishing always creates
// a new version; existing assignments keep their version's variants.
func (h *ExperimentHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg experiment.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	version, err := h.experiments.Publish(r.Context(), cfg)
	if err != nil {
		if validationErr := cfg.Validate(); validationErr != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_CONFIG", validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Publishing config failed")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"version": version,
		"config":  cfg,
	})
}

// Results handles GET /api/v1/experiment/results.
func (h *ExperimentHandler) Results(w http.ResponseWriter, r *http.Request) {
	results, err := h.experiments.Results(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Loading results failed")
		return
	}
	writeSuccess(w, http.StatusOK, results)
}
