package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halcyonlabs/pharos/internal/experiment"
	"github.com/halcyonlabs/pharos/internal/prefs"
)

// UserHandler serves per-user eligibility and variant lookups.
type UserHandler struct {
	prefs       *prefs.Model
	experiments *experiment.Manager
	required    int
}

// NewUserHandler creates a new UserHandler. required is the interaction
// count a user needs before recommendations are available.
func NewUserHandler(model *prefs.Model, experiments *experiment.Manager, required int) *UserHandler {
	return &UserHandler{prefs: model, experiments: experiments, required: required}
}

// Eligibility handles GET /api/v1/users/{id}/eligibility.
func (h *UserHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	eligible, count, err := h.prefs.Eligible(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Eligibility check failed")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"eligible":     eligible,
		"interactions": count,
		"required":     h.required,
	})
}

// Variant handles GET /api/v1/users/{id}/variant.
func (h *UserHandler) Variant(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	v, err := h.experiments.Assign(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Variant assignment failed")
		return
	}

	_, version := h.experiments.Snapshot()
	writeSuccess(w, http.StatusOK, map[string]any{
		"user_id":        userID,
		"variant":        v.Name,
		"params":         v.Params,
		"config_version": version,
	})
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user id")
		return 0, false
	}
	return userID, true
}
