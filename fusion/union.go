package fusion

import "context"

// UnionStrategy concatenates provider results in provider-config order,
// dropping later occurrences of already-seen content.
type UnionStrategy struct {
	dedup *Deduplicator
}

// Name returns the strategy's registry key.
func (s *UnionStrategy) Name() string { return StrategyUnion }

// Fuse preserves the relative order of first occurrences.
func (s *UnionStrategy) Fuse(_ context.Context, outputs []ProviderOutput, limit int) ([]any, error) {
	seen := make(map[string]bool)
	var out []any
	for _, po := range outputs {
		for _, r := range po.Results {
			k := s.dedup.Key(r)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
	}
	return truncate(out, limit), nil
}
