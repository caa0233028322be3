// Package ranker assembles personalized rankings: eligibility gate, preference
// vector lookup, cluster-pruned nearest-neighbor retrieval, score
// normalization, and the optional LLM rerank stage, all parameterized by the
// caller's experiment variant.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/experiment"
	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/metrics"
	"github.com/halcyonlabs/pharos/internal/prefs"
	"github.com/halcyonlabs/pharos/internal/recoerr"
	"github.com/halcyonlabs/pharos/internal/rerank"
	"github.com/halcyonlabs/pharos/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	// rerankCandidateLimit bounds how many candidates go into a rerank prompt.
	rerankCandidateLimit = 20
	// recentTextLimit bounds the liked/disliked examples in a rerank prompt.
	recentTextLimit = 5

	writeBackTimeout = 5 * time.Second
)

// Preferences is the slice of the preference model the ranker uses.
type Preferences interface {
	Current(ctx context.Context, userID int64) (*prefs.Preference, error)
	Recompute(ctx context.Context, userID int64, dislikeWeight float64) (*prefs.Preference, error)
}

// Searcher is the cluster-pruned nearest-neighbor search surface.
type Searcher interface {
	Search(ctx context.Context, target []float32, topK int, channels []uuid.UUID) ([]index.Match, error)
}

// Experiments resolves per-user ranking parameters.
type Experiments interface {
	ParamsFor(ctx context.Context, userID int64) (experiment.Params, string, error)
}

// Store is the persistence surface the ranker needs.
type Store interface {
	InteractedItemIDs(ctx context.Context, userID int64) ([]uuid.UUID, error)
	ItemTexts(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]string, error)
	RecentInteractionTexts(ctx context.Context, userID int64, kind string, limit int) ([]string, error)
	UpdateRelevanceScore(ctx context.Context, itemID uuid.UUID, score float64) error
	CachedRelevanceScores(ctx context.Context, channelIDs []uuid.UUID, limit int) ([]store.ScoredItem, error)
}

// Request scopes one ranking call.
type Request struct {
	UserID   int64
	Channels []uuid.UUID
	Limit    int
}

// Recommendation is one ranked item. Score is normalized to [0, 1].
type Recommendation struct {
	ItemID    uuid.UUID `json:"item_id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Score     float64   `json:"score"`
}

// Result is a completed ranking with its provenance.
type Result struct {
	Items    []Recommendation `json:"items"`
	Variant  string           `json:"variant"`
	Reranked bool             `json:"reranked"`
	Degraded bool             `json:"degraded"`
}

// Ranker orchestrates the ranking pipeline.
type Ranker struct {
	data        Store
	preferences Preferences
	search      Searcher
	experiments Experiments
	reranker    rerank.Reranker
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a ranker. reranker may be nil to disable the rerank stage
// regardless of variant params; metrics may be nil in tests.
func New(data Store, preferences Preferences, search Searcher, experiments Experiments, reranker rerank.Reranker, m *metrics.Metrics, logger *slog.Logger) *Ranker {
	return &Ranker{
		data:        data,
		preferences: preferences,
		search:      search,
		experiments: experiments,
		reranker:    reranker,
		metrics:     m,
		logger:      logger,
	}
}

// Rank produces recommendations for one user.
//
// Outcomes: recoerr.ErrNotEligible when the user lacks history;
// recoerr.ErrRecommendationUnavailable when the index is down and no cached
// scores exist; a degraded Result when cached scores stand in for live search.
func (r *Ranker) Rank(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result, err := r.rank(ctx, req)
	r.observe(start, outcome(result, err))
	return result, err
}

func (r *Ranker) rank(ctx context.Context, req Request) (*Result, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	params, variant, err := r.experiments.ParamsFor(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving variant: %w", err)
	}

	pref, err := r.currentPreference(ctx, req.UserID, params.DislikeWeight)
	if err != nil {
		return nil, err
	}
	if pref.Stale {
		r.recomputeAsync(req.UserID, params.DislikeWeight)
	}

	seen, err := r.data.InteractedItemIDs(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading interacted items: %w", err)
	}
	exclude := make(map[uuid.UUID]bool, len(seen))
	for _, id := range seen {
		exclude[id] = true
	}

	// Over-fetch so the pool survives filtering out already-seen items.
	matches, err := r.search.Search(ctx, pref.Vector, params.PoolSize+len(seen), req.Channels)
	if err != nil {
		if errors.Is(err, recoerr.ErrIndexUnavailable) {
			return r.degraded(ctx, req, variant, exclude, limit, err)
		}
		return nil, err
	}

	items := make([]Recommendation, 0, params.PoolSize)
	for _, m := range matches {
		if exclude[m.ItemID] {
			continue
		}
		items = append(items, Recommendation{
			ItemID:    m.ItemID,
			ChannelID: m.ChannelID,
			Score:     normalizeScore(m.Similarity),
		})
		if len(items) == params.PoolSize {
			break
		}
	}

	result := &Result{Variant: variant}
	if params.RerankEnabled && r.reranker != nil && len(items) > 1 {
		items, result.Reranked = r.rerankStage(ctx, req.UserID, items, params.RerankTopK)
	}
	if params.ChannelCap > 0 {
		items = capPerChannel(items, params.ChannelCap)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	result.Items = items

	r.writeBackAsync(items)
	return result, nil
}

// currentPreference returns the stored vector, computing it on first use for
// users who became eligible since the last sweep.
func (r *Ranker) currentPreference(ctx context.Context, userID int64, dislikeWeight float64) (*prefs.Preference, error) {
	pref, err := r.preferences.Current(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, recoerr.ErrNotEligible) {
		return nil, err
	}
	return r.preferences.Recompute(ctx, userID, dislikeWeight)
}

// degraded serves previously cached relevance scores when live search is
// unavailable. With no cached scores either, the ranking is unavailable.
func (r *Ranker) degraded(ctx context.Context, req Request, variant string, exclude map[uuid.UUID]bool, limit int, cause error) (*Result, error) {
	r.logger.Warn("vector index unavailable, serving cached scores", "user", req.UserID, "error", cause)

	cached, err := r.data.CachedRelevanceScores(ctx, req.Channels, limit+len(exclude))
	if err != nil || len(cached) == 0 {
		return nil, fmt.Errorf("%w: %w", recoerr.ErrRecommendationUnavailable, cause)
	}

	items := make([]Recommendation, 0, limit)
	for _, s := range cached {
		if exclude[s.ItemID] {
			continue
		}
		items = append(items, Recommendation{ItemID: s.ItemID, ChannelID: s.ChannelID, Score: s.Similarity})
		if len(items) == limit {
			break
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %w", recoerr.ErrRecommendationUnavailable, cause)
	}
	return &Result{Items: items, Variant: variant, Degraded: true}, nil
}

// rerankStage lets the LLM reorder the head of the pool. Any failure keeps
// the base order; reranking is an enhancement, never a dependency.
func (r *Ranker) rerankStage(ctx context.Context, userID int64, items []Recommendation, topK int) ([]Recommendation, bool) {
	head := len(items)
	if head > rerankCandidateLimit {
		head = rerankCandidateLimit
	}
	if topK <= 0 || topK > head {
		topK = head
	}

	ids := make([]uuid.UUID, head)
	for i := 0; i < head; i++ {
		ids[i] = items[i].ItemID
	}
	texts, err := r.data.ItemTexts(ctx, ids)
	if err != nil {
		r.logger.Warn("rerank skipped, loading texts failed", "user", userID, "error", err)
		return items, false
	}

	likes, err := r.data.RecentInteractionTexts(ctx, userID, store.KindLike, recentTextLimit)
	if err != nil {
		r.logger.Warn("rerank skipped, loading likes failed", "user", userID, "error", err)
		return items, false
	}
	dislikes, err := r.data.RecentInteractionTexts(ctx, userID, store.KindDislike, recentTextLimit)
	if err != nil {
		r.logger.Warn("rerank skipped, loading dislikes failed", "user", userID, "error", err)
		return items, false
	}

	candidates := make([]rerank.Candidate, head)
	byID := make(map[uuid.UUID]Recommendation, head)
	for i := 0; i < head; i++ {
		candidates[i] = rerank.Candidate{ItemID: items[i].ItemID, Text: texts[items[i].ItemID], Score: items[i].Score}
		byID[items[i].ItemID] = items[i]
	}

	ordered, err := r.reranker.Rerank(ctx, likes, dislikes, candidates, topK)
	if err != nil {
		r.logger.Warn("rerank failed, keeping base order", "user", userID, "error", err)
		return items, false
	}

	// Reranked head first, then the untouched remainder in base order.
	out := make([]Recommendation, 0, len(items))
	used := make(map[uuid.UUID]bool, len(ordered))
	for _, c := range ordered {
		out = append(out, byID[c.ItemID])
		used[c.ItemID] = true
	}
	for _, it := range items {
		if !used[it.ItemID] {
			out = append(out, it)
		}
	}
	return out, true
}

// capPerChannel limits each channel's share of the ranking, preserving order.
func capPerChannel(items []Recommendation, cap int) []Recommendation {
	counts := make(map[uuid.UUID]int)
	out := items[:0:len(items)]
	for _, it := range items {
		if counts[it.ChannelID] >= cap {
			continue
		}
		counts[it.ChannelID]++
		out = append(out, it)
	}
	return out
}

// recomputeAsync refreshes a stale preference vector off the request path.
func (r *Ranker) recomputeAsync(userID int64, dislikeWeight float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.preferences.Recompute(ctx, userID, dislikeWeight); err != nil && !errors.Is(err, recoerr.ErrNotEligible) {
			r.logger.Warn("background recompute failed", "user", userID, "error", err)
		}
	}()
}

// writeBackAsync caches the served scores on the items so degraded mode has
// something to fall back to. Best effort.
func (r *Ranker) writeBackAsync(items []Recommendation) {
	if len(items) == 0 {
		return
	}
	snapshot := make([]Recommendation, len(items))
	copy(snapshot, items)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		for _, it := range snapshot {
			if err := r.data.UpdateRelevanceScore(ctx, it.ItemID, it.Score); err != nil {
				r.logger.Warn("relevance write-back failed", "item", it.ItemID, "error", err)
				return
			}
		}
	}()
}

// normalizeScore maps cosine similarity from [-1, 1] to [0, 1].
func normalizeScore(similarity float64) float64 {
	s := (similarity + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (r *Ranker) observe(start time.Time, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RankRequests.WithLabelValues(outcome).Inc()
	r.metrics.RankLatency.Observe(time.Since(start).Seconds())
}

func outcome(result *Result, err error) string {
	switch {
	case errors.Is(err, recoerr.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, recoerr.ErrRecommendationUnavailable):
		return "unavailable"
	case err != nil:
		return "error"
	case result != nil && result.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}
