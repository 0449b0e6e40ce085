package fusion

import (
	"context"
	"sort"
)

// VotingStrategy gives each provider one vote per unique result. Results
// below the vote threshold are dropped entirely; a threshold of 2 requires
// agreement across at least two providers.
type VotingStrategy struct {
	dedup     *Deduplicator
	threshold int
}

// Name returns the strategy's registry key.
func (s *VotingStrategy) Name() string { return StrategyVoting }

type votedResult struct {
	result   any
	votes    int
	rankSum  int
	rankObs  int
	order    int
	perProvd map[string]bool
}

// Fuse ranks by vote count descending; ties break by ascending average rank
// across the providers that returned the result, then by first-seen order.
func (s *VotingStrategy) Fuse(_ context.Context, outputs []ProviderOutput, limit int) ([]any, error) {
	byKey := make(map[string]*votedResult)
	var keys []string
	order := 0
	for _, po := range outputs {
		for rank, r := range po.Results {
			k := s.dedup.Key(r)
			entry, ok := byKey[k]
			if !ok {
				entry = &votedResult{result: r, order: order, perProvd: make(map[string]bool)}
				byKey[k] = entry
				keys = append(keys, k)
				order++
			}
			// One vote per provider even if it returned the content twice.
			if !entry.perProvd[po.ProviderName] {
				entry.perProvd[po.ProviderName] = true
				entry.votes++
			}
			entry.rankSum += rank
			entry.rankObs++
		}
	}

	ranked := make([]*votedResult, 0, len(keys))
	for _, k := range keys {
		if byKey[k].votes >= s.threshold {
			ranked = append(ranked, byKey[k])
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].votes != ranked[j].votes {
			return ranked[i].votes > ranked[j].votes
		}
		avgI := float64(ranked[i].rankSum) / float64(ranked[i].rankObs)
		avgJ := float64(ranked[j].rankSum) / float64(ranked[j].rankObs)
		if avgI != avgJ {
			return avgI < avgJ
		}
		return ranked[i].order < ranked[j].order
	})

	out := make([]any, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.result)
	}
	return truncate(out, limit), nil
}
