package experiment

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return DefaultConfig()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default is valid", func(c *Config) {}, ""},
		{"missing name", func(c *Config) { c.Name = "" }, "name is required"},
		{"no variants", func(c *Config) { c.Variants = nil }, "at least one variant"},
		{"unnamed variant", func(c *Config) { c.Variants[0].Name = "" }, "variant name"},
		{"duplicate variant", func(c *Config) { c.Variants[1].Name = c.Variants[0].Name }, "duplicate"},
		{"zero weight", func(c *Config) { c.Variants[0].Weight = 0 }, "weight must be positive"},
		{"weights not 100", func(c *Config) { c.Variants[0].Weight = 40 }, "sum to 90"},
		{"zero pool", func(c *Config) { c.Variants[0].Params.PoolSize = 0 }, "pool size"},
		{"rerank without top-k", func(c *Config) {
			c.Variants[0].Params.RerankEnabled = true
			c.Variants[0].Params.RerankTopK = 0
		}, "rerank top-k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBucket_Deterministic(t *testing.T) {
	cfg := validConfig()
	for userID := int64(1); userID <= 50; userID++ {
		v1 := cfg.bucket(userID, "salt", 1)
		v2 := cfg.bucket(userID, "salt", 1)
		if v1.Name != v2.Name {
			t.Fatalf("user %d bucketed differently across calls: %s vs %s", userID, v1.Name, v2.Name)
		}
	}
}

func TestBucket_SaltAndVersionChangeAssignment(t *testing.T) {
	cfg := validConfig()

	differsBySalt := false
	differsByVersion := false
	for userID := int64(1); userID <= 200; userID++ {
		if cfg.bucket(userID, "a", 1).Name != cfg.bucket(userID, "b", 1).Name {
			differsBySalt = true
		}
		if cfg.bucket(userID, "a", 1).Name != cfg.bucket(userID, "a", 2).Name {
			differsByVersion = true
		}
	}
	if !differsBySalt {
		t.Error("changing the salt never moved any of 200 users")
	}
	if !differsByVersion {
		t.Error("changing the version never moved any of 200 users")
	}
}

func TestBucket_RespectsWeightsRoughly(t *testing.T) {
	cfg := Config{
		Name:    "skewed",
		Enabled: true,
		Variants: []Variant{
			{Name: "big", Weight: 90, Params: Params{PoolSize: 10}},
			{Name: "small", Weight: 10, Params: Params{PoolSize: 10}},
		},
	}

	big := 0
	const n = 2000
	for userID := int64(1); userID <= n; userID++ {
		if cfg.bucket(userID, "salt", 1).Name == "big" {
			big++
		}
	}
	share := float64(big) / n
	if share < 0.85 || share > 0.95 {
		t.Errorf("big variant got %.2f of users, want ~0.90", share)
	}
}
