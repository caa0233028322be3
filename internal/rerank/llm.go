package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/halcyonlabs/pharos/internal/recoerr"
)

// LLMReranker asks a chat-completion model to reorder candidates given the
// user's recent likes and dislikes. The model answers with a JSON array of
// candidate indices, best first.
type LLMReranker struct {
	apiBase string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewLLMReranker builds a reranker against an OpenAI-compatible chat API.
func NewLLMReranker(apiBase, apiKey, model string, timeout time.Duration) *LLMReranker {
	return &LLMReranker{
		apiBase: strings.TrimRight(apiBase, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Rerank sends the candidates to the model and returns them in the model's
// preferred order, truncated to topK. Any transport, HTTP, or parse failure
// is reported as transient so the caller can fall back to the base order.
func (r *LLMReranker) Rerank(ctx context.Context, likes, dislikes []string, candidates []Candidate, topK int) ([]Candidate, error) {
	const op = "rerank.llm"

	if len(candidates) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(likes, dislikes, candidates, topK)},
		},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, recoerr.Permanent(op, fmt.Errorf("encoding request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, recoerr.Permanent(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, recoerr.Transient(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, recoerr.Transient(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("chat API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, recoerr.Transient(op, err)
		}
		return nil, recoerr.Permanent(op, err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, recoerr.Transient(op, fmt.Errorf("decoding response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return nil, recoerr.Transient(op, fmt.Errorf("chat API returned no choices"))
	}

	order, err := parseIndexList(decoded.Choices[0].Message.Content, len(candidates))
	if err != nil {
		return nil, recoerr.Transient(op, err)
	}
	return applyOrder(candidates, order, topK), nil
}

const systemPrompt = "You rank content for a reader. Respond with a JSON array of " +
	"candidate indices ordered from most to least appealing, nothing else."

func buildPrompt(likes, dislikes []string, candidates []Candidate, topK int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pick the %d best candidates for this reader.\n", topK)
	if len(likes) > 0 {
		b.WriteString("\nRecently liked:\n")
		for _, t := range likes {
			fmt.Fprintf(&b, "- %s\n", clip(t))
		}
	}
	if len(dislikes) > 0 {
		b.WriteString("\nRecently disliked:\n")
		for _, t := range dislikes {
			fmt.Fprintf(&b, "- %s\n", clip(t))
		}
	}
	b.WriteString("\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, clip(c.Text))
	}
	return b.String()
}

// clip keeps prompt lines short; the model only needs a gist of each item.
func clip(s string) string {
	const max = 300
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// parseIndexList extracts the JSON index array from a model reply, tolerating
// code fences and surrounding prose. Indices must be unique and in [0, n).
func parseIndexList(content string, n int) ([]int, error) {
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("reply contains no JSON array: %q", clip(content))
	}

	var order []int
	if err := json.Unmarshal([]byte(content[start:end+1]), &order); err != nil {
		return nil, fmt.Errorf("decoding index array: %w", err)
	}

	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("index %d out of range [0,%d)", idx, n)
		}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("reply contains an empty index array")
	}
	return order, nil
}

// applyOrder materializes the model's ordering, padding with unmentioned
// candidates in base order so short replies still fill topK.
func applyOrder(candidates []Candidate, order []int, topK int) []Candidate {
	out := make([]Candidate, 0, topK)
	used := make(map[int]bool, len(order))
	for _, idx := range order {
		if len(out) == topK {
			break
		}
		out = append(out, candidates[idx])
		used[idx] = true
	}
	for i := range candidates {
		if len(out) == topK {
			break
		}
		if !used[i] {
			out = append(out, candidates[i])
		}
	}
	return out
}
