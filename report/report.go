// Package report folds completed run checkpoints into accuracy, latency and
// retrieval statistics, and coordinates multi-provider comparisons.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/checkpoint"
)

// PhaseLatency aggregates one phase's durations across questions.
type PhaseLatency struct {
	MeanMs float64 `json:"mean_ms"`
	P50Ms  int64   `json:"p50_ms"`
	P95Ms  int64   `json:"p95_ms"`
	MaxMs  int64   `json:"max_ms"`
}

// RetrievalSummary averages the per-question retrieval metrics.
type RetrievalSummary struct {
	MeanHitAtK       float64 `json:"mean_hit_at_k"`
	MeanPrecisionAtK float64 `json:"mean_precision_at_k"`
	MeanMRR          float64 `json:"mean_mrr"`
	MeanNDCG         float64 `json:"mean_ndcg"`
	Graded           int     `json:"graded"`
}

// Summary is the folded result of one run.
type Summary struct {
	RunID          string    `json:"run_id"`
	Provider       string    `json:"provider"`
	Benchmark      string    `json:"benchmark"`
	Judge          string    `json:"judge"`
	AnsweringModel string    `json:"answering_model"`
	GeneratedAt    time.Time `json:"generated_at"`

	Questions int     `json:"questions"`
	Evaluated int     `json:"evaluated"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`

	// AccuracyByType maps question type to fraction correct.
	AccuracyByType map[string]float64 `json:"accuracy_by_type,omitempty"`

	Latency   map[checkpoint.Phase]PhaseLatency `json:"latency"`
	Retrieval RetrievalSummary                  `json:"retrieval"`
}

// Generator folds checkpoints into summaries.
type Generator struct {
	store  *checkpoint.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator builds a report generator over the store.
func NewGenerator(store *checkpoint.Store, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		store:  store,
		logger: logger.With(zap.String("component", "report")),
		now:    time.Now,
	}
}

// Generate folds the named run's checkpoint into a summary. Questions whose
// evaluate phase is not completed count toward Questions but not Evaluated.
func (g *Generator) Generate(runID string) (*Summary, error) {
	cp, err := g.store.Load(runID)
	if err != nil {
		return nil, err
	}
	return Fold(cp, g.now()), nil
}

// Write persists the summary next to the run's checkpoint and returns the
// path.
func (g *Generator) Write(s *Summary) (string, error) {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(g.store.RunDir(s.RunID), "summary.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	g.logger.Info("summary written", zap.String("run_id", s.RunID), zap.String("path", path))
	return path, nil
}

// Fold computes the summary of one checkpoint.
func Fold(cp *checkpoint.RunCheckpoint, now time.Time) *Summary {
	s := &Summary{
		RunID:          cp.RunID,
		Provider:       cp.Provider,
		Benchmark:      cp.Benchmark,
		Judge:          cp.Judge,
		AnsweringModel: cp.AnsweringModel,
		GeneratedAt:    now.UTC(),
		Questions:      len(cp.Questions),
		Latency:        make(map[checkpoint.Phase]PhaseLatency, len(checkpoint.Order)),
	}

	durations := make(map[checkpoint.Phase][]int64)
	typeTotals := make(map[string]int)
	typeCorrect := make(map[string]int)

	for _, id := range cp.QuestionIDs() {
		q := cp.Questions[id]
		for _, p := range checkpoint.Order {
			pc, ok := q.Phases[p]
			if ok && pc.Status == checkpoint.StatusCompleted {
				durations[p] = append(durations[p], pc.DurationMs)
			}
		}

		eval, ok := q.Phases[checkpoint.PhaseEvaluate]
		if !ok || eval.Status != checkpoint.StatusCompleted || eval.Score == nil {
			continue
		}
		s.Evaluated++
		typeTotals[q.QuestionType]++
		if *eval.Score == 1 {
			s.Correct++
			typeCorrect[q.QuestionType]++
		}
		if m := eval.Retrieval; m != nil {
			s.Retrieval.Graded++
			s.Retrieval.MeanHitAtK += m.HitAtK
			s.Retrieval.MeanPrecisionAtK += m.PrecisionAtK
			s.Retrieval.MeanMRR += m.MRR
			s.Retrieval.MeanNDCG += m.NDCG
		}
	}

	if s.Evaluated > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Evaluated)
	}
	if n := s.Retrieval.Graded; n > 0 {
		s.Retrieval.MeanHitAtK /= float64(n)
		s.Retrieval.MeanPrecisionAtK /= float64(n)
		s.Retrieval.MeanMRR /= float64(n)
		s.Retrieval.MeanNDCG /= float64(n)
	}
	if len(typeTotals) > 0 {
		s.AccuracyByType = make(map[string]float64, len(typeTotals))
		for t, total := range typeTotals {
			s.AccuracyByType[t] = float64(typeCorrect[t]) / float64(total)
		}
	}
	for p, ds := range durations {
		s.Latency[p] = foldLatency(ds)
	}
	return s
}

func foldLatency(durations []int64) PhaseLatency {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum int64
	for _, d := range durations {
		sum += d
	}
	n := len(durations)
	return PhaseLatency{
		MeanMs: float64(sum) / float64(n),
		P50Ms:  durations[percentileIndex(n, 50)],
		P95Ms:  durations[percentileIndex(n, 95)],
		MaxMs:  durations[n-1],
	}
}

// percentileIndex returns the nearest-rank index for pct over n sorted items.
func percentileIndex(n, pct int) int {
	i := (n*pct + 99) / 100
	if i < 1 {
		i = 1
	}
	return i - 1
}
