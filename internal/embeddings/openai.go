package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/halcyonlabs/pharos/internal/recoerr"
)

// OpenAIProvider generates embeddings using an OpenAI-compatible API.
type OpenAIProvider struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(apiBase, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIProvider{
		apiBase: strings.TrimRight(apiBase, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Dimensions returns the embedding vector size.
func (p *OpenAIProvider) Dimensions() int { return Dimensions }

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates embeddings for a batch of texts. Rate limits and server
// errors surface as transient; malformed requests as permanent.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIRequest{
		Input:      texts,
		Model:      p.model,
		Dimensions: Dimensions, // request 384 dims to match the local model
	})
	if err != nil {
		return nil, recoerr.Permanent("embed", fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, recoerr.Permanent("embed", fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, recoerr.Transient("embed", fmt.Errorf("calling provider: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, recoerr.Transient("embed", fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, recoerr.Transient("embed", fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBody)))
	case resp.StatusCode != http.StatusOK:
		return nil, recoerr.Permanent("embed", fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(respBody)))
	}

	var result openAIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, recoerr.Transient("embed", fmt.Errorf("parsing response: %w", err))
	}
	if result.Error != nil {
		return nil, recoerr.Permanent("embed", fmt.Errorf("provider error: %s", result.Error.Message))
	}
	if len(result.Data) != len(texts) {
		return nil, recoerr.Transient("embed", fmt.Errorf("got %d embeddings for %d inputs", len(result.Data), len(texts)))
	}

	// The API documents order-preservation but also carries indices; honor them.
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, recoerr.Transient("embed", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
