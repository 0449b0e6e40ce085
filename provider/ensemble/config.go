// Package ensemble provides the aggregate memory provider: it fans every
// call out to its sub-providers and fuses search results with a configured
// strategy. The search phase runner is unaware it is talking to an aggregate.
package ensemble

import (
	"encoding/json"
	"os"

	"github.com/BaSui01/membench/fusion"
	"github.com/BaSui01/membench/types"
)

// Name is the registry key.
const Name = "ensemble"

// ProviderRef names one sub-provider and its fusion weight.
type ProviderRef struct {
	Name string `json:"name"`
	// Weight is used by the weighted strategy; zero reads as 1.
	Weight float64 `json:"weight,omitempty"`
}

// Config is the parsed ensemble config file. Loaded once per run and
// read-only thereafter; it is threaded explicitly from the orchestrator call
// into the provider factory, never held in process-wide state.
type Config struct {
	Providers []ProviderRef `json:"providers"`
	Strategy  fusion.Config `json:"strategy"`
}

// LoadConfig reads and validates an ensemble config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewErrorf(types.ErrInvalidConfig, "read ensemble config %s", path).WithCause(err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, types.NewErrorf(types.ErrInvalidConfig, "parse ensemble config %s", path).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config for structural problems.
func (c *Config) Validate() error {
	if len(c.Providers) < 2 {
		return types.NewErrorf(types.ErrInvalidConfig, "ensemble needs at least 2 providers, got %d", len(c.Providers))
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return types.NewError(types.ErrInvalidConfig, "ensemble provider with empty name")
		}
		if p.Name == Name {
			return types.NewError(types.ErrInvalidConfig, "ensemble cannot nest itself")
		}
		if seen[p.Name] {
			return types.NewErrorf(types.ErrInvalidConfig, "duplicate ensemble provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.Weight < 0 {
			return types.NewErrorf(types.ErrInvalidConfig, "provider %q has negative weight", p.Name)
		}
	}
	if c.Strategy.Name == "" {
		return types.NewError(types.ErrInvalidConfig, "ensemble strategy name is required")
	}
	if c.Strategy.Threshold < 0 {
		return types.NewErrorf(types.ErrInvalidConfig, "voting threshold must not be negative, got %d", c.Strategy.Threshold)
	}
	return nil
}
