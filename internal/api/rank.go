package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/ranker"
	"github.com/halcyonlabs/pharos/internal/recoerr"
)

// RankHandler serves ranked recommendations.
type RankHandler struct {
	ranker *ranker.Ranker
}

// NewRankHandler creates a new RankHandler.
func NewRankHandler(rk *ranker.Ranker) *RankHandler {
	return &RankHandler{ranker: rk}
}

type rankRequest struct {
	UserID     int64       `json:"user_id"`
	ChannelIDs []uuid.UUID `json:"channel_ids,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Rank handles POST /api/v1/rank.
func (h *RankHandler) Rank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must not be negative")
		return
	}

	result, err := h.ranker.Rank(r.Context(), ranker.Request{
		UserID:   req.UserID,
		Channels: req.ChannelIDs,
		Limit:    req.Limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, recoerr.ErrNotEligible):
			writeError(w, http.StatusUnprocessableEntity, "NOT_ELIGIBLE",
				"User does not have enough interaction history for recommendations")
		case errors.Is(err, recoerr.ErrRecommendationUnavailable):
			writeError(w, http.StatusServiceUnavailable, "RECOMMENDATION_UNAVAILABLE",
				"Recommendations are temporarily unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Ranking failed")
		}
		return
	}

	writeSuccess(w, http.StatusOK, result)
}
