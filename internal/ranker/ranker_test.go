package ranker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/experiment"
	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/prefs"
	"github.com/halcyonlabs/pharos/internal/recoerr"
	"github.com/halcyonlabs/pharos/internal/rerank"
	"github.com/halcyonlabs/pharos/internal/store"
)

type fakeRankStore struct {
	mu         sync.Mutex
	interacted []uuid.UUID
	texts      map[uuid.UUID]string
	cached     []store.ScoredItem
	cachedErr  error
	writtenIDs []uuid.UUID
}

func (f *fakeRankStore) InteractedItemIDs(_ context.Context, _ int64) ([]uuid.UUID, error) {
	return f.interacted, nil
}

func (f *fakeRankStore) ItemTexts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if t, ok := f.texts[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (f *fakeRankStore) RecentInteractionTexts(_ context.Context, _ int64, _ string, _ int) ([]string, error) {
	return []string{"liked thing"}, nil
}

func (f *fakeRankStore) UpdateRelevanceScore(_ context.Context, itemID uuid.UUID, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writtenIDs = append(f.writtenIDs, itemID)
	return nil
}

func (f *fakeRankStore) CachedRelevanceScores(_ context.Context, _ []uuid.UUID, _ int) ([]store.ScoredItem, error) {
	return f.cached, f.cachedErr
}

type fakePrefs struct {
	pref       *prefs.Preference
	currentErr error
	recomputed chan int64
}

func (f *fakePrefs) Current(_ context.Context, _ int64) (*prefs.Preference, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.pref, nil
}

func (f *fakePrefs) Recompute(_ context.Context, userID int64, _ float64) (*prefs.Preference, error) {
	if f.recomputed != nil {
		select {
		case f.recomputed <- userID:
		default:
		}
	}
	if f.pref == nil {
		return nil, recoerr.ErrNotEligible
	}
	return f.pref, nil
}

type memorySearcher struct {
	index *index.Memory
	err   error
}

func (s *memorySearcher) Search(ctx context.Context, target []float32, topK int, channels []uuid.UUID) ([]index.Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.index.Search(ctx, index.Query{Vector: target, TopK: topK, Channels: channels})
}

type fakeExperiments struct {
	params experiment.Params
}

func (f *fakeExperiments) ParamsFor(_ context.Context, _ int64) (experiment.Params, string, error) {
	return f.params, "control", nil
}

type reverseReranker struct {
	called bool
	err    error
}

func (r *reverseReranker) Rerank(_ context.Context, _, _ []string, candidates []rerank.Candidate, topK int) ([]rerank.Candidate, error) {
	r.called = true
	if r.err != nil {
		return nil, r.err
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]rerank.Candidate, 0, topK)
	for i := len(candidates) - 1; i >= 0 && len(out) < topK; i-- {
		out = append(out, candidates[i])
	}
	return out, nil
}

type harness struct {
	data     *fakeRankStore
	prefs    *fakePrefs
	searcher *memorySearcher
	exp      *fakeExperiments
	items    []uuid.UUID // indexed best-match-first relative to vector (1,0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseParams() experiment.Params {
	return experiment.Params{
		Algorithm:     experiment.AlgorithmCosine,
		DislikeWeight: 0.5,
		PoolSize:      10,
	}
}

// newHarness indexes four items at decreasing similarity to (1,0) and wires a
// user whose preference vector is exactly (1,0).
func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := index.NewMemory()
	ch := uuid.New()
	vectors := [][]float32{
		{1, 0},       // cos 1.0
		{1, 1},       // cos ~0.707
		{0, 1},       // cos 0
		{-0.5, 0.5},  // cos < 0
	}
	ids := make([]uuid.UUID, len(vectors))
	for i, v := range vectors {
		ids[i] = uuid.New()
		if err := mem.Upsert(context.Background(), ids[i], ch, v); err != nil {
			t.Fatal(err)
		}
	}
	return &harness{
		data:     &fakeRankStore{texts: map[uuid.UUID]string{}},
		prefs:    &fakePrefs{pref: &prefs.Preference{UserID: 1, Vector: []float32{1, 0}, InteractionCount: 5}},
		searcher: &memorySearcher{index: mem},
		exp:      &fakeExperiments{params: baseParams()},
		items:    ids,
	}
}

func (h *harness) ranker(rr rerank.Reranker) *Ranker {
	return New(h.data, h.prefs, h.searcher, h.exp, rr, nil, testLogger())
}

func TestRank_OrdersByCosine(t *testing.T) {
	h := newHarness(t)
	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(result.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(result.Items))
	}
	for i, want := range h.items {
		if result.Items[i].ItemID != want {
			t.Errorf("position %d: got %s, want %s", i, result.Items[i].ItemID, want)
		}
	}

	// Scores are (cos+1)/2: best is 1.0, orthogonal is 0.5.
	if math.Abs(result.Items[0].Score-1.0) > 1e-6 {
		t.Errorf("best score = %f, want 1.0", result.Items[0].Score)
	}
	if math.Abs(result.Items[2].Score-0.5) > 1e-6 {
		t.Errorf("orthogonal score = %f, want 0.5", result.Items[2].Score)
	}
	if result.Degraded || result.Reranked {
		t.Errorf("unexpected flags: %+v", result)
	}
}

func TestRank_ZeroVectorScoresCandidatesEqually(t *testing.T) {
	mem := index.NewMemory()
	ch := uuid.New()
	east := uuid.New()
	west := uuid.New()
	if err := mem.Upsert(context.Background(), east, ch, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := mem.Upsert(context.Background(), west, ch, []float32{-1, 0}); err != nil {
		t.Fatal(err)
	}

	// Likes and dislikes cancelled out: the preference vector is all zeros and
	// carries no direction, so opposite candidates are equally (non-)relevant.
	h := &harness{
		data:     &fakeRankStore{texts: map[uuid.UUID]string{}},
		prefs:    &fakePrefs{pref: &prefs.Preference{UserID: 1, Vector: []float32{0, 0}, InteractionCount: 5}},
		searcher: &memorySearcher{index: mem},
		exp:      &fakeExperiments{params: baseParams()},
	}

	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected both items, got %d", len(result.Items))
	}
	if result.Items[0].Score != result.Items[1].Score {
		t.Errorf("opposite candidates scored unequally: %f vs %f",
			result.Items[0].Score, result.Items[1].Score)
	}
	for _, it := range result.Items {
		if math.Abs(it.Score-0.5) > 1e-6 {
			t.Errorf("zero-vector score = %f, want 0.5", it.Score)
		}
	}
}

func TestRank_ExcludesInteracted(t *testing.T) {
	h := newHarness(t)
	h.data.interacted = []uuid.UUID{h.items[0]}

	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range result.Items {
		if it.ItemID == h.items[0] {
			t.Fatal("interacted item returned")
		}
	}
	if len(result.Items) != 3 {
		t.Errorf("expected 3 items, got %d", len(result.Items))
	}
}

func TestRank_NotEligible(t *testing.T) {
	h := newHarness(t)
	h.prefs.pref = nil
	h.prefs.currentErr = recoerr.ErrNotEligible

	_, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if !errors.Is(err, recoerr.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestRank_ComputesOnFirstUse(t *testing.T) {
	h := newHarness(t)
	// No stored vector yet, but the user has enough history to compute one.
	h.prefs.currentErr = recoerr.ErrNotEligible
	h.prefs.recomputed = make(chan int64, 1)

	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(result.Items) == 0 {
		t.Fatal("expected items from freshly computed vector")
	}
	select {
	case <-h.prefs.recomputed:
	default:
		t.Error("recompute was not invoked")
	}
}

func TestRank_StaleTriggersBackgroundRecompute(t *testing.T) {
	h := newHarness(t)
	h.prefs.pref.Stale = true
	h.prefs.recomputed = make(chan int64, 1)

	if _, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1}); err != nil {
		t.Fatal(err)
	}
	select {
	case userID := <-h.prefs.recomputed:
		if userID != 1 {
			t.Errorf("recomputed user %d, want 1", userID)
		}
	case <-time.After(2 * time.Second):
		t.Error("stale vector did not trigger a recompute")
	}
}

func TestRank_DegradedFallsBackToCachedScores(t *testing.T) {
	h := newHarness(t)
	h.searcher.err = recoerr.IndexUnavailable(errors.New("connection refused"))
	ch := uuid.New()
	h.data.cached = []store.ScoredItem{
		{ItemID: uuid.New(), ChannelID: ch, Similarity: 0.9},
		{ItemID: uuid.New(), ChannelID: ch, Similarity: 0.7},
	}

	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded result")
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 cached items, got %d", len(result.Items))
	}
	if result.Items[0].Score != 0.9 {
		t.Errorf("cached score = %f, want 0.9", result.Items[0].Score)
	}
}

func TestRank_UnavailableWithoutCache(t *testing.T) {
	h := newHarness(t)
	h.searcher.err = recoerr.IndexUnavailable(errors.New("connection refused"))
	h.data.cached = nil

	_, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if !errors.Is(err, recoerr.ErrRecommendationUnavailable) {
		t.Fatalf("expected ErrRecommendationUnavailable, got %v", err)
	}
}

func TestRank_RerankAdoptsModelOrder(t *testing.T) {
	h := newHarness(t)
	params := baseParams()
	params.RerankEnabled = true
	params.RerankTopK = 2
	h.exp.params = params
	for _, id := range h.items {
		h.data.texts[id] = "text for " + id.String()
	}

	rr := &reverseReranker{}
	result, err := h.ranker(rr).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !rr.called {
		t.Fatal("reranker was not called")
	}
	if !result.Reranked {
		t.Error("result not flagged as reranked")
	}

	// The reverse reranker puts the worst two first; the remainder keeps base
	// order below them.
	want := []uuid.UUID{h.items[3], h.items[2], h.items[0], h.items[1]}
	for i, id := range want {
		if result.Items[i].ItemID != id {
			t.Errorf("position %d: got %s, want %s", i, result.Items[i].ItemID, id)
		}
	}
}

func TestRank_RerankFailureKeepsBaseOrder(t *testing.T) {
	h := newHarness(t)
	params := baseParams()
	params.RerankEnabled = true
	params.RerankTopK = 2
	h.exp.params = params
	for _, id := range h.items {
		h.data.texts[id] = "text"
	}

	rr := &reverseReranker{err: errors.New("model timeout")}
	result, err := h.ranker(rr).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if result.Reranked {
		t.Error("failed rerank must not be flagged")
	}
	for i, want := range h.items {
		if result.Items[i].ItemID != want {
			t.Errorf("position %d: got %s, want %s", i, result.Items[i].ItemID, want)
		}
	}
}

func TestRank_ChannelCap(t *testing.T) {
	mem := index.NewMemory()
	chA := uuid.New()
	chB := uuid.New()
	// Three strong items in channel A, one weaker in channel B.
	aIDs := make([]uuid.UUID, 3)
	for i := range aIDs {
		aIDs[i] = uuid.New()
		if err := mem.Upsert(context.Background(), aIDs[i], chA, []float32{1, float32(i) * 0.01}); err != nil {
			t.Fatal(err)
		}
	}
	bID := uuid.New()
	if err := mem.Upsert(context.Background(), bID, chB, []float32{0, 1}); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		data:     &fakeRankStore{texts: map[uuid.UUID]string{}},
		prefs:    &fakePrefs{pref: &prefs.Preference{UserID: 1, Vector: []float32{1, 0}, InteractionCount: 5}},
		searcher: &memorySearcher{index: mem},
		exp:      &fakeExperiments{},
	}
	params := baseParams()
	params.ChannelCap = 2
	h.exp.params = params

	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1})
	if err != nil {
		t.Fatal(err)
	}
	countA := 0
	for _, it := range result.Items {
		if it.ChannelID == chA {
			countA++
		}
	}
	if countA != 2 {
		t.Errorf("channel A items = %d, want capped at 2", countA)
	}
	if len(result.Items) != 3 {
		t.Errorf("expected 3 items after capping, got %d", len(result.Items))
	}
}

func TestRank_LimitTruncates(t *testing.T) {
	h := newHarness(t)
	result, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(result.Items))
	}
}

func TestRank_WritesBackRelevanceScores(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ranker(nil).Rank(context.Background(), Request{UserID: 1}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		h.data.mu.Lock()
		n := len(h.data.writtenIDs)
		h.data.mu.Unlock()
		if n == 4 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected 4 write-backs, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
