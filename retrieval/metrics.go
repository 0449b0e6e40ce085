// Package retrieval grades raw search results for relevance and computes
// per-question information-retrieval quality metrics.
package retrieval

import (
	"math"

	"github.com/BaSui01/membench/checkpoint"
)

// MetricsFromRelevance folds a binary relevance vector into the per-question
// metrics object. relevance[i] reports whether the i-th retrieved result was
// graded relevant to the ground truth.
//
// Recall is computed as "any relevant item retrieved", the same value as hit:
// the true number of relevant items in the corpus is unknown, so the count of
// retrieved-and-relevant stands in for it.
func MetricsFromRelevance(relevance []bool) *checkpoint.RetrievalMetrics {
	n := len(relevance)
	if n == 0 {
		return &checkpoint.RetrievalMetrics{}
	}

	relevant := 0
	firstRelevant := -1
	for i, r := range relevance {
		if r {
			relevant++
			if firstRelevant < 0 {
				firstRelevant = i
			}
		}
	}

	m := &checkpoint.RetrievalMetrics{
		K:                 n,
		RelevantRetrieved: relevant,
		TotalRelevant:     relevant,
	}
	if relevant == 0 {
		return m
	}

	m.HitAtK = 1
	m.RecallAtK = 1
	m.PrecisionAtK = float64(relevant) / float64(n)
	m.F1AtK = 2 * m.PrecisionAtK * m.RecallAtK / (m.PrecisionAtK + m.RecallAtK)
	m.MRR = 1 / float64(firstRelevant+1)
	m.NDCG = ndcg(relevance, relevant)
	return m
}

// ndcg divides the DCG of the observed binary vector by the IDCG of an ideal
// ranking that places totalRelevant ones first. totalRelevant is floored at 1
// so an all-zero vector yields 0 rather than NaN.
func ndcg(relevance []bool, totalRelevant int) float64 {
	dcg := 0.0
	for i, r := range relevance {
		if r {
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}

	ideal := totalRelevant
	if ideal < 1 {
		ideal = 1
	}
	idcg := 0.0
	for i := 0; i < ideal; i++ {
		idcg += 1 / math.Log2(float64(i)+2)
	}
	return dcg / idcg
}
