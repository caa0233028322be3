package prefs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/pharos/internal/index"
	"github.com/halcyonlabs/pharos/internal/recoerr"
	"github.com/halcyonlabs/pharos/internal/store"
)

type fakeStore struct {
	interactions map[int64][]store.Interaction
	vectors      map[int64]*store.PreferenceVector
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		interactions: make(map[int64][]store.Interaction),
		vectors:      make(map[int64]*store.PreferenceVector),
	}
}

func (f *fakeStore) add(userID int64, itemID uuid.UUID, kind string) {
	f.interactions[userID] = append(f.interactions[userID], store.Interaction{
		UserID: userID, ItemID: itemID, Kind: kind, CreatedAt: time.Now(),
	})
}

func (f *fakeStore) ListInteractions(_ context.Context, userID int64) ([]store.Interaction, error) {
	return f.interactions[userID], nil
}

func (f *fakeStore) CountInteractions(_ context.Context, userID int64) (int, error) {
	return len(f.interactions[userID]), nil
}

func (f *fakeStore) GetPreferenceVector(_ context.Context, userID int64) (*store.PreferenceVector, error) {
	pv, ok := f.vectors[userID]
	if !ok {
		return nil, store.ErrNoPreferenceVector
	}
	return pv, nil
}

func (f *fakeStore) UpsertPreferenceVector(_ context.Context, pv *store.PreferenceVector) error {
	pv.ComputedAt = time.Now()
	f.vectors[pv.UserID] = pv
	return nil
}

func testModel(data Store, vectors index.Index) *Model {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(data, vectors, Config{MinInteractions: 3, RecomputeBatch: 2}, logger)
}

func indexItem(t *testing.T, vectors *index.Memory, v []float32) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := vectors.Upsert(context.Background(), id, uuid.New(), v); err != nil {
		t.Fatal(err)
	}
	return id
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-5
}

func TestRecompute_NotEligibleBelowThreshold(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindLike)

	m := testModel(data, vectors)
	_, err := m.Recompute(context.Background(), 1, 0.5)
	if !errors.Is(err, recoerr.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestRecompute_NotEligibleWithoutLikes(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	for i := 0; i < 3; i++ {
		data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindDislike)
	}

	m := testModel(data, vectors)
	_, err := m.Recompute(context.Background(), 1, 0.5)
	if !errors.Is(err, recoerr.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for likes-free history, got %v", err)
	}
}

func TestRecompute_MeanOfLikes(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0.5, 0.5}), store.KindLike)

	m := testModel(data, vectors)
	pref, err := m.Recompute(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mean is (0.5, 0.5); normalized to (1/√2, 1/√2).
	want := 1 / math.Sqrt2
	if !almostEqual(float64(pref.Vector[0]), want) || !almostEqual(float64(pref.Vector[1]), want) {
		t.Errorf("vector = %v, want [%f %f]", pref.Vector, want, want)
	}
	if pref.InteractionCount != 3 {
		t.Errorf("interaction count = %d, want 3", pref.InteractionCount)
	}
}

func TestRecompute_DislikesSubtracted(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindDislike)

	m := testModel(data, vectors)
	pref, err := m.Recompute(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// mean(liked) = (1,0); minus 0.5·(0,1) = (1,-0.5); normalized.
	norm := math.Sqrt(1 + 0.25)
	if !almostEqual(float64(pref.Vector[0]), 1/norm) || !almostEqual(float64(pref.Vector[1]), -0.5/norm) {
		t.Errorf("vector = %v, want [%f %f]", pref.Vector, 1/norm, -0.5/norm)
	}
}

func TestRecompute_ZeroVectorStaysZero(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{1, 1}), store.KindDislike)

	m := testModel(data, vectors)
	pref, err := m.Recompute(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// mean(liked) = (0.5,0.5); minus 0.5·(1,1) cancels exactly.
	for i, x := range pref.Vector {
		if x != 0 {
			t.Errorf("dim %d = %f, want 0", i, x)
		}
	}
}

func TestRecompute_SkipsCarryNoSignal(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindSkip)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindSkip)

	m := testModel(data, vectors)
	pref, err := m.Recompute(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatalf("skips should count toward eligibility: %v", err)
	}

	// Only the single like contributes.
	if !almostEqual(float64(pref.Vector[0]), 1) || !almostEqual(float64(pref.Vector[1]), 0) {
		t.Errorf("vector = %v, want [1 0]", pref.Vector)
	}
}

func TestRecompute_IgnoresDislikeWeightZero(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindDislike)

	m := testModel(data, vectors)
	pref, err := m.Recompute(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(float64(pref.Vector[0]), 1) || !almostEqual(float64(pref.Vector[1]), 0) {
		t.Errorf("weight 0 should ignore dislikes, got %v", pref.Vector)
	}
}

func TestCurrent_NotEligibleWithoutVector(t *testing.T) {
	m := testModel(newFakeStore(), index.NewMemory())
	_, err := m.Current(context.Background(), 1)
	if !errors.Is(err, recoerr.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestCurrent_StaleAfterBatchGrowth(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	for i := 0; i < 3; i++ {
		data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindLike)
	}

	m := testModel(data, vectors)
	if _, err := m.Recompute(context.Background(), 1, 0.5); err != nil {
		t.Fatal(err)
	}

	pref, err := m.Current(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if pref.Stale {
		t.Error("fresh vector should not be stale")
	}

	// Two more interactions reach the recompute batch.
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindLike)
	data.add(1, indexItem(t, vectors, []float32{0, 1}), store.KindLike)

	pref, err = m.Current(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !pref.Stale {
		t.Error("vector should be stale after batch growth")
	}
}

func TestEligible(t *testing.T) {
	data := newFakeStore()
	vectors := index.NewMemory()
	m := testModel(data, vectors)

	eligible, count, err := m.Eligible(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if eligible || count != 0 {
		t.Errorf("new user: eligible=%v count=%d", eligible, count)
	}

	for i := 0; i < 3; i++ {
		data.add(1, indexItem(t, vectors, []float32{1, 0}), store.KindSkip)
	}
	eligible, count, err = m.Eligible(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !eligible || count != 3 {
		t.Errorf("after 3 interactions: eligible=%v count=%d", eligible, count)
	}
}
