package fusion

import (
	"context"
	"sort"
)

// RRFStrategy implements Reciprocal Rank Fusion: every (provider, rank)
// occurrence of a result contributes 1/(k + rank + 1) to its score, so
// results returned highly by several providers accumulate the most.
type RRFStrategy struct {
	dedup *Deduplicator
	k     int
}

// Name returns the strategy's registry key.
func (s *RRFStrategy) Name() string { return StrategyRRF }

type scoredResult struct {
	result any
	score  float64
	// order is the first-seen position across the concatenated outputs;
	// it breaks score ties deterministically.
	order int
}

// Fuse accumulates reciprocal-rank scores and sorts descending, ties broken
// by stable first-seen order.
func (s *RRFStrategy) Fuse(_ context.Context, outputs []ProviderOutput, limit int) ([]any, error) {
	byKey := make(map[string]*scoredResult)
	var keys []string
	order := 0
	for _, po := range outputs {
		for rank, r := range po.Results {
			k := s.dedup.Key(r)
			entry, ok := byKey[k]
			if !ok {
				entry = &scoredResult{result: r, order: order}
				byKey[k] = entry
				keys = append(keys, k)
				order++
			}
			entry.score += 1.0 / float64(s.k+rank+1)
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
