package fusion

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/types"
)

// ProviderOutput is the ephemeral per-search value produced by the ensemble
// fan-out for one sub-provider. Consumed only by the active strategy, never
// persisted.
type ProviderOutput struct {
	ProviderName string
	Results      []any
	LatencyMs    int64
	Weight       float64
}

// Strategy turns N providers' ranked lists into one ranked list. Strategies
// operate purely on rank position or native score, never mutate their inputs,
// and are deterministic given identical inputs.
type Strategy interface {
	// Name returns the strategy's registry key.
	Name() string

	// Fuse combines the outputs into at most limit ranked results.
	Fuse(ctx context.Context, outputs []ProviderOutput, limit int) ([]any, error)
}

// Strategy registry keys.
const (
	StrategyUnion     = "union"
	StrategyRRF       = "rrf"
	StrategyWeighted  = "weighted"
	StrategyVoting    = "voting"
	StrategyLLMRerank = "llm-rerank"
)

// Config selects and parameterizes a fusion strategy. It is the parsed form
// of the `strategy` object in the ensemble config file.
type Config struct {
	Name string `json:"name"`

	// K is the RRF rank constant; smaller means more rank-sensitive.
	// Defaults to 60.
	K int `json:"k,omitempty"`

	// Threshold is the minimum vote count for the voting strategy.
	// Omitted defaults to 1 (no agreement required); negative is invalid.
	Threshold int `json:"threshold,omitempty"`

	// Model names the rerank model for llm-rerank.
	Model string `json:"model,omitempty"`
}

// New builds the configured strategy. The llm client is required only for
// llm-rerank; other strategies ignore it.
func New(cfg Config, client llm.Provider, logger *zap.Logger) (Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dedup := NewDeduplicator()
	switch cfg.Name {
	case StrategyUnion:
		return &UnionStrategy{dedup: dedup}, nil
	case StrategyRRF:
		k := cfg.K
		if k <= 0 {
			k = 60
		}
		return &RRFStrategy{dedup: dedup, k: k}, nil
	case StrategyWeighted:
		return &WeightedStrategy{dedup: dedup}, nil
	case StrategyVoting:
		if cfg.Threshold < 0 {
			return nil, types.NewErrorf(types.ErrInvalidConfig, "voting threshold must not be negative, got %d", cfg.Threshold)
		}
		threshold := cfg.Threshold
		if threshold == 0 {
			threshold = 1
		}
		return &VotingStrategy{dedup: dedup, threshold: threshold}, nil
	case StrategyLLMRerank:
		if client == nil {
			return nil, types.NewError(types.ErrInvalidConfig, "llm-rerank strategy requires an llm client")
		}
		return &LLMRerankStrategy{
			dedup:  dedup,
			client: client,
			model:  cfg.Model,
			logger: logger.With(zap.String("component", "fusion.llm_rerank")),
		}, nil
	default:
		return nil, types.NewErrorf(types.ErrUnknownStrategy, "unknown fusion strategy %q", cfg.Name)
	}
}

// truncate caps a fused list at limit; limit <= 0 means unlimited.
func truncate(results []any, limit int) []any {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
