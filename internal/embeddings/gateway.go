package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/halcyonlabs/pharos/internal/recoerr"
)

// GatewayConfig tunes batching and retry behavior.
type GatewayConfig struct {
	BatchSize   int           // max texts per provider call
	Timeout     time.Duration // per-attempt deadline
	MaxRetries  int           // attempts per batch beyond the first
	BaseBackoff time.Duration // first retry delay, doubled per attempt
}

// DefaultGatewayConfig returns conservative gateway defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BatchSize:   64,
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
	}
}

// Gateway obtains fixed-dimension vectors for arbitrary text from a Provider.
// It splits inputs into bounded batches, retries transient failures with
// exponential backoff, and trips a circuit breaker when the provider is down.
// It does not cache results; persistence is the caller's concern.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	breaker  *gobreaker.CircuitBreaker[[][]float32]
	logger   *slog.Logger
}

// NewGateway wraps a provider.
func NewGateway(provider Provider, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultGatewayConfig().BatchSize
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultGatewayConfig().BaseBackoff
	}
	breaker := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Permanent errors are the input's fault, not the provider's;
		// only transient failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || recoerr.IsPermanent(err)
		},
	})
	return &Gateway{provider: provider, cfg: cfg, breaker: breaker, logger: logger}
}

// Model returns the underlying provider's model name.
func (g *Gateway) Model() string { return g.provider.Model() }

// Dimensions returns the embedding vector size.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

// Embed returns one vector per input text, order-preserving. Blank inputs are
// rejected up front as permanent failures.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prepared := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, recoerr.Permanent("embed", fmt.Errorf("input %d is empty", i))
		}
		prepared[i] = truncate(t)
	}

	result := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		vectors, err := g.embedBatch(ctx, prepared[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
	}
	return result, nil
}

func (g *Gateway) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.cfg.BaseBackoff << (attempt - 1)
			g.logger.Warn("embedding retry", "attempt", attempt, "delay", delay.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, recoerr.Transient("embed", ctx.Err())
			case <-time.After(delay):
			}
		}

		vectors, err := g.attempt(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		if recoerr.IsPermanent(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, recoerr.Transient("embed", fmt.Errorf("retries exhausted: %w", lastErr))
}

func (g *Gateway) attempt(ctx context.Context, batch []string) ([][]float32, error) {
	attemptCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	vectors, err := g.breaker.Execute(func() ([][]float32, error) {
		return g.provider.Embed(attemptCtx, batch)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, recoerr.Transient("embed", err)
	}
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
