package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/pipeline"
	"github.com/BaSui01/membench/provider/ensemble"
)

// ProviderRun is one provider's entry in a comparison manifest.
type ProviderRun struct {
	Provider string   `json:"provider"`
	RunID    string   `json:"run_id"`
	Error    string   `json:"error,omitempty"`
	Summary  *Summary `json:"summary,omitempty"`
}

// Manifest tracks one comparison across providers.
type Manifest struct {
	Benchmark string        `json:"benchmark"`
	StartedAt time.Time     `json:"started_at"`
	Runs      []ProviderRun `json:"runs"`

	// Lift compares the ensemble's accuracy against the best individual
	// provider, when the comparison includes the ensemble.
	Lift *LiftAnalysis `json:"lift,omitempty"`
}

// LiftAnalysis quantifies what fusing providers bought over the best one.
type LiftAnalysis struct {
	EnsembleAccuracy float64 `json:"ensemble_accuracy"`
	BestIndividual   string  `json:"best_individual"`
	BestAccuracy     float64 `json:"best_accuracy"`
	AbsoluteLift     float64 `json:"absolute_lift"`
}

// CompareRequest describes a multi-provider comparison.
type CompareRequest struct {
	Providers      []string
	Benchmark      string
	JudgeModel     string
	AnsweringModel string
	Sampling       checkpoint.SamplingConfig
	Concurrency    checkpoint.ConcurrencyOverrides
}

// Coordinator runs the same benchmark against several providers in parallel
// and aggregates the results.
type Coordinator struct {
	orchestrator *pipeline.Orchestrator
	generator    *Generator
	logger       *zap.Logger
	now          func() time.Time
}

// NewCoordinator builds a comparison coordinator.
func NewCoordinator(o *pipeline.Orchestrator, g *Generator, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		orchestrator: o,
		generator:    g,
		logger:       logger.With(zap.String("component", "comparison")),
		now:          time.Now,
	}
}

// Compare executes one run per provider concurrently. Runs are isolated by
// distinct run ids (and therefore container tags), so providers never read
// each other's memories. Individual run failures are recorded against their
// provider; the comparison itself fails only when every run fails.
func (c *Coordinator) Compare(ctx context.Context, req CompareRequest) (*Manifest, error) {
	if len(req.Providers) == 0 {
		return nil, fmt.Errorf("comparison needs at least one provider")
	}

	m := &Manifest{
		Benchmark: req.Benchmark,
		StartedAt: c.now().UTC(),
		Runs:      make([]ProviderRun, len(req.Providers)),
	}
	for i, p := range req.Providers {
		m.Runs[i] = ProviderRun{Provider: p, RunID: uuid.NewString()}
	}

	var g errgroup.Group
	for i := range m.Runs {
		run := &m.Runs[i]
		g.Go(func() error {
			c.logger.Info("comparison run starting",
				zap.String("provider", run.Provider),
				zap.String("run_id", run.RunID),
			)
			_, err := c.orchestrator.Run(ctx, pipeline.RunRequest{
				RunID:          run.RunID,
				Provider:       run.Provider,
				Benchmark:      req.Benchmark,
				JudgeModel:     req.JudgeModel,
				AnsweringModel: req.AnsweringModel,
				Sampling:       req.Sampling,
				Concurrency:    req.Concurrency,
			})
			if err != nil {
				run.Error = err.Error()
				c.logger.Error("comparison run failed",
					zap.String("provider", run.Provider),
					zap.String("run_id", run.RunID),
					zap.Error(err),
				)
				return nil
			}
			summary, serr := c.generator.Generate(run.RunID)
			if serr != nil {
				run.Error = serr.Error()
				return nil
			}
			run.Summary = summary
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, run := range m.Runs {
		if run.Summary != nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		return m, fmt.Errorf("all %d comparison runs failed", len(m.Runs))
	}

	m.Lift = liftAnalysis(m.Runs)
	return m, nil
}

// liftAnalysis compares the ensemble run, if present and successful, against
// the best individual provider.
func liftAnalysis(runs []ProviderRun) *LiftAnalysis {
	var ens *ProviderRun
	var best *ProviderRun
	for i := range runs {
		run := &runs[i]
		if run.Summary == nil {
			continue
		}
		if run.Provider == ensemble.Name {
			ens = run
			continue
		}
		if best == nil || run.Summary.Accuracy > best.Summary.Accuracy {
			best = run
		}
	}
	if ens == nil || best == nil {
		return nil
	}
	return &LiftAnalysis{
		EnsembleAccuracy: ens.Summary.Accuracy,
		BestIndividual:   best.Provider,
		BestAccuracy:     best.Summary.Accuracy,
		AbsoluteLift:     ens.Summary.Accuracy - best.Summary.Accuracy,
	}
}

// Render formats the manifest as a printable comparison table.
func (m *Manifest) Render() string {
	runs := append([]ProviderRun(nil), m.Runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		ai, aj := -1.0, -1.0
		if runs[i].Summary != nil {
			ai = runs[i].Summary.Accuracy
		}
		if runs[j].Summary != nil {
			aj = runs[j].Summary.Accuracy
		}
		return ai > aj
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Benchmark: %s\n\n", m.Benchmark)
	fmt.Fprintf(&sb, "%-20s %-10s %-10s %-10s %-10s  %s\n",
		"PROVIDER", "ACCURACY", "HIT@K", "NDCG", "P95 SEARCH", "RUN")
	for _, run := range runs {
		if run.Summary == nil {
			fmt.Fprintf(&sb, "%-20s %-10s %-10s %-10s %-10s  %s (%s)\n",
				run.Provider, "-", "-", "-", "-", run.RunID, firstLine(run.Error))
			continue
		}
		s := run.Summary
		fmt.Fprintf(&sb, "%-20s %-10.3f %-10.3f %-10.3f %-10d  %s\n",
			run.Provider, s.Accuracy, s.Retrieval.MeanHitAtK, s.Retrieval.MeanNDCG,
			s.Latency[checkpoint.PhaseSearch].P95Ms, run.RunID)
	}
	if m.Lift != nil {
		fmt.Fprintf(&sb, "\nEnsemble lift over %s: %+.3f (%.3f vs %.3f)\n",
			m.Lift.BestIndividual, m.Lift.AbsoluteLift,
			m.Lift.EnsembleAccuracy, m.Lift.BestAccuracy)
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
