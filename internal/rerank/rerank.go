// Package rerank reorders top ranking candidates through an external LLM.
// Reranking is a per-variant option; failures and timeouts fall back to the
// base similarity order upstream.
package rerank

import (
	"context"

	"github.com/google/uuid"
)

// Candidate is one item offered to the reranker.
type Candidate struct {
	ItemID uuid.UUID
	Text   string
	Score  float64
}

// Reranker reorders candidates by predicted preference, best first. The
// returned slice holds at most topK candidates drawn from the input.
type Reranker interface {
	Rerank(ctx context.Context, likes, dislikes []string, candidates []Candidate, topK int) ([]Candidate, error)
}
