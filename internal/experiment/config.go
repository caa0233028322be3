// Package experiment assigns users to ranking-strategy variants and tracks
// per-variant outcomes.
//
// Assignment is a pure function of (user id, salt, config version) hashed
// into weighted buckets, persisted on first use and never silently changed
// for a given version. Configs are immutable per version; changes publish a
// new version as a whole.
package experiment

import "fmt"

// Algorithm labels carried by variant params. The ranker treats unknown
// labels as cosine.
const (
	AlgorithmCosine = "cosine_similarity"
	AlgorithmRerank = "llm_rerank"
)

// Params are the ranking knobs a variant controls.
type Params struct {
	Algorithm     string  `json:"algorithm"`
	DislikeWeight float64 `json:"dislike_weight"`
	PoolSize      int     `json:"pool_size"`
	RerankEnabled bool    `json:"rerank_enabled"`
	RerankTopK    int     `json:"rerank_top_k"`
	ChannelCap    int     `json:"channel_cap"` // 0 = no per-channel limit
}

// Variant is a named parameter set with its share of the user population.
type Variant struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"` // percent of users, weights sum to 100
	Params Params `json:"params"`
}

// Config is one published experiment configuration. Never mutated in place.
type Config struct {
	Name     string    `json:"name"`
	Enabled  bool      `json:"enabled"`
	Variants []Variant `json:"variants"`
}

// DefaultConfig is the configuration used until an operator publishes one.
func DefaultConfig() Config {
	return Config{
		Name:    "ranking_strategy_v1",
		Enabled: true,
		Variants: []Variant{
			{
				Name:   "control",
				Weight: 50,
				Params: Params{
					Algorithm:     AlgorithmCosine,
					DislikeWeight: 0.5,
					PoolSize:      50,
				},
			},
			{
				Name:   "treatment_rerank",
				Weight: 50,
				Params: Params{
					Algorithm:     AlgorithmRerank,
					DislikeWeight: 0.5,
					PoolSize:      50,
					RerankEnabled: true,
					RerankTopK:    10,
				},
			},
		},
	}
}

// Validate rejects configs that cannot bucket users deterministically.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("at least one variant is required")
	}
	seen := map[string]bool{}
	total := 0
	for _, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant name is required")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variant %q", v.Name)
		}
		seen[v.Name] = true
		if v.Weight <= 0 {
			return fmt.Errorf("variant %q weight must be positive", v.Name)
		}
		if v.Params.PoolSize <= 0 {
			return fmt.Errorf("variant %q pool size must be positive", v.Name)
		}
		if v.Params.RerankEnabled && v.Params.RerankTopK <= 0 {
			return fmt.Errorf("variant %q rerank top-k must be positive", v.Name)
		}
		total += v.Weight
	}
	if total != 100 {
		return fmt.Errorf("variant weights sum to %d, want 100", total)
	}
	return nil
}

// Control returns the first variant, used when the experiment is disabled.
func (c Config) Control() Variant {
	return c.Variants[0]
}
