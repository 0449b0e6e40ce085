package pipeline

import (
	"math/rand"
	"sort"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
)

// Sampling modes recorded on the run checkpoint.
const (
	SamplingAll    = "all"
	SamplingLimit  = "limit"
	SamplingSample = "sample"
)

// selectQuestions materializes the run's question set from the benchmark's
// full set per the sampling policy. Output preserves dataset order so a
// given (dataset, policy, seed) always yields the same run.
func selectQuestions(questions []benchmark.Question, cfg checkpoint.SamplingConfig) []benchmark.Question {
	switch cfg.Mode {
	case SamplingLimit:
		if cfg.Limit <= 0 || cfg.Limit >= len(questions) {
			return questions
		}
		return questions[:cfg.Limit]

	case SamplingSample:
		if cfg.PerCategory <= 0 {
			return questions
		}
		return samplePerCategory(questions, cfg)

	default: // "" and "all"
		return questions
	}
}

func samplePerCategory(questions []benchmark.Question, cfg checkpoint.SamplingConfig) []benchmark.Question {
	byType := make(map[string][]int)
	var typeOrder []string
	for i, q := range questions {
		if _, ok := byType[q.QuestionType]; !ok {
			typeOrder = append(typeOrder, q.QuestionType)
		}
		byType[q.QuestionType] = append(byType[q.QuestionType], i)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	picked := make([]int, 0, len(typeOrder)*cfg.PerCategory)
	for _, t := range typeOrder {
		idxs := byType[t]
		if len(idxs) <= cfg.PerCategory {
			picked = append(picked, idxs...)
			continue
		}
		if cfg.Random {
			perm := rng.Perm(len(idxs))
			for _, p := range perm[:cfg.PerCategory] {
				picked = append(picked, idxs[p])
			}
		} else {
			picked = append(picked, idxs[:cfg.PerCategory]...)
		}
	}

	sort.Ints(picked)
	out := make([]benchmark.Question, 0, len(picked))
	for _, i := range picked {
		out = append(out, questions[i])
	}
	return out
}
