package embeddings

import (
	"context"
	"testing"

	"github.com/halcyonlabs/pharos/internal/vec"
)

func TestSimpleProvider_Embed(t *testing.T) {
	p := NewSimpleProvider()

	if p.Model() != "simple" {
		t.Errorf("expected model 'simple', got '%s'", p.Model())
	}

	vecs, err := p.Embed(context.Background(), []string{"hello world test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if len(vecs[0]) != Dimensions {
		t.Errorf("expected %d dimensions, got %d", Dimensions, len(vecs[0]))
	}

	// Check normalization: L2 norm should be ~1.0
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("expected L2 norm ~1.0, got %f", norm)
	}
}

func TestSimpleProvider_Deterministic(t *testing.T) {
	p := NewSimpleProvider()
	ctx := context.Background()

	a, _ := p.Embed(ctx, []string{"the cat sat on the mat"})
	b, _ := p.Embed(ctx, []string{"the cat sat on the mat"})
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("same text produced different vectors at dim %d", i)
		}
	}
}

func TestSimpleProvider_SimilarTexts(t *testing.T) {
	p := NewSimpleProvider()
	ctx := context.Background()

	vecs, _ := p.Embed(ctx, []string{
		"the cat sat on the mat",
		"the cat sat on the mat today",
		"quantum physics equations",
	})

	simNear := vec.Cosine(vecs[0], vecs[1])
	simFar := vec.Cosine(vecs[0], vecs[2])
	if simNear <= simFar {
		t.Errorf("overlapping texts should score higher: near=%f far=%f", simNear, simFar)
	}
}

func TestSimpleProvider_PreservesOrder(t *testing.T) {
	p := NewSimpleProvider()
	vecs, err := p.Embed(context.Background(), []string{"alpha beta", "gamma delta"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	single, _ := p.Embed(context.Background(), []string{"gamma delta"})
	for i := range single[0] {
		if vecs[1][i] != single[0][i] {
			t.Fatal("batch order not preserved")
		}
	}
}
