package fusion

import (
	"context"
	"sort"
)

// scoreFields is the priority list of provider-reported relevance fields.
var scoreFields = []string{"score", "relevance", "similarity"}

// WeightedStrategy scores each occurrence as providerWeight * nativeScore,
// where nativeScore is the provider-reported relevance when present and a
// reciprocal-rank proxy otherwise. Duplicates across providers accumulate.
type WeightedStrategy struct {
	dedup *Deduplicator
}

// Name returns the strategy's registry key.
func (s *WeightedStrategy) Name() string { return StrategyWeighted }

// nativeScore extracts a provider-reported relevance number from a result,
// falling back to 1/(rank+1).
func nativeScore(result any, rank int) float64 {
	if m, ok := result.(map[string]any); ok {
		for _, f := range scoreFields {
			switch v := m[f].(type) {
			case float64:
				return v
			case int:
				return float64(v)
			}
		}
	}
	return 1.0 / float64(rank+1)
}

// Fuse accumulates weighted scores and sorts descending, ties broken by
// stable first-seen order.
func (s *WeightedStrategy) Fuse(_ context.Context, outputs []ProviderOutput, limit int) ([]any, error) {
	byKey := make(map[string]*scoredResult)
	var keys []string
	order := 0
	for _, po := range outputs {
		weight := po.Weight
		if weight == 0 {
			weight = 1
		}
		for rank, r := range po.Results {
			k := s.dedup.Key(r)
			entry, ok := byKey[k]
			if !ok {
				entry = &scoredResult{result: r, order: order}
				byKey[k] = entry
				keys = append(keys, k)
				order++
			}
			entry.score += weight * nativeScore(r, rank)
		}
	}

	ranked := make([]*scoredResult, 0, len(keys))
	for _, k := range keys {
		ranked = append(ranked, byKey[k])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	out := make([]any, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.result)
	}
	return truncate(out, limit), nil
}
