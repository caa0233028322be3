package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// SimpleProvider generates embeddings using a keyword hashing approach. Not
// semantically meaningful, but deterministic and sufficient for similarity
// matching on shared keywords in development and tests.
type SimpleProvider struct{}

// NewSimpleProvider creates a new SimpleProvider.
func NewSimpleProvider() *SimpleProvider {
	return &SimpleProvider{}
}

// Model returns the provider name.
func (p *SimpleProvider) Model() string { return "simple" }

// Dimensions returns the embedding vector size.
func (p *SimpleProvider) Dimensions() int { return Dimensions }

// Embed generates pseudo-embeddings by hashing words into vector dimensions.
// Words are lowercased, split on whitespace/punctuation, each word hashed to a
// dimension index; bigrams contribute half weight. Vectors are L2-normalized.
func (p *SimpleProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = embedOne(text)
	}
	return result, nil
}

func embedOne(text string) []float32 {
	vec := make([]float32, Dimensions)
	words := tokenize(text)

	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		idx := h.Sum64() % uint64(Dimensions)
		vec[idx] += 1.0
	}

	// Bigrams capture a little word ordering.
	for i := 0; i < len(words)-1; i++ {
		bigram := words[i] + " " + words[i+1]
		h := fnv.New64a()
		h.Write([]byte(bigram))
		idx := h.Sum64() % uint64(Dimensions)
		vec[idx] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	for _, c := range ".,;:!?()[]{}\"'`~@#$%^&*+=|\\/<>" {
		text = strings.ReplaceAll(text, string(c), " ")
	}
	fields := strings.Fields(text)
	var result []string
	for _, f := range fields {
		if len(f) >= 2 {
			result = append(result, f)
		}
	}
	return result
}
