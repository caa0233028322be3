// Package embeddings provides a swappable gateway for batched text embedding
// generation with retry, backoff, and circuit breaking.
package embeddings

import "context"

// Dimensions is the embedding vector size (384 = all-MiniLM-L6-v2).
// OpenAI text-embedding-3-small also supports 384 via the dimensions parameter.
const Dimensions = 384

// maxTextRunes bounds each input before it is sent to a provider.
const maxTextRunes = 8000

// Provider generates text embeddings in batches. Implementations return one
// vector per input text, order-preserving.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model name for logging and storage.
	Model() string

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTextRunes {
		return text
	}
	return string(runes[:maxTextRunes])
}
