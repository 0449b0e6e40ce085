package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/internal/telemetry"
	"github.com/BaSui01/membench/judge"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/provider"
	"github.com/BaSui01/membench/retrieval"
	"github.com/BaSui01/membench/types"
)

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Store      *checkpoint.Store
	Registry   *provider.Registry
	Benchmarks map[string]benchmark.Benchmark

	// Client serves the answering model, the judge, and the relevance
	// grader.
	Client    llm.Provider
	Tokenizer llm.Tokenizer

	// SearchLimit caps results per search; TokenBudget bounds answer
	// prompt context. Both optional.
	SearchLimit int
	TokenBudget int

	Metrics *telemetry.Collector
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Orchestrator creates or resumes a run checkpoint and sequences the phase
// runners over it in fixed order.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger *zap.Logger
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "orchestrator")),
	}
}

// RunRequest describes one benchmark run.
type RunRequest struct {
	// RunID names the run; empty generates one. A run id names at most
	// one in-flight run at a time.
	RunID string
	// Provider and Benchmark are registry keys.
	Provider  string
	Benchmark string
	// JudgeModel grades hypotheses and search-result relevance.
	JudgeModel string
	// AnsweringModel produces hypotheses; empty uses the client default.
	AnsweringModel string

	Sampling    checkpoint.SamplingConfig
	Concurrency checkpoint.ConcurrencyOverrides

	// Force discards any existing checkpoint under RunID before starting.
	Force bool
	// Phases restricts execution to the named phases, run in fixed
	// pipeline order. Empty means all five.
	Phases []checkpoint.Phase
}

// Run executes the pipeline for the request, creating a fresh checkpoint or
// resuming an existing one. The returned checkpoint reflects the final state
// even when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*checkpoint.RunCheckpoint, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	logger := o.logger.With(zap.String("run_id", req.RunID))

	// Configuration errors surface before any checkpoint mutation.
	bench, ok := o.cfg.Benchmarks[req.Benchmark]
	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownBenchmark, "unknown benchmark %q", req.Benchmark)
	}
	prov, err := o.cfg.Registry.New(req.Provider)
	if err != nil {
		return nil, err
	}
	phases, err := orderPhases(req.Phases)
	if err != nil {
		return nil, err
	}

	if err := bench.Load(ctx); err != nil {
		return nil, fmt.Errorf("load benchmark %s: %w", req.Benchmark, err)
	}
	if err := prov.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize provider %s: %w", req.Provider, err)
	}

	if req.Force && o.cfg.Store.Exists(req.RunID) {
		logger.Warn("discarding existing checkpoint", zap.Bool("force", true))
		if err := o.cfg.Store.Delete(req.RunID); err != nil {
			return nil, fmt.Errorf("delete run %s: %w", req.RunID, err)
		}
	}

	var cp *checkpoint.RunCheckpoint
	if o.cfg.Store.Exists(req.RunID) {
		cp, err = o.cfg.Store.Load(req.RunID)
		if err != nil {
			return nil, err
		}
		logger.Info("resuming run",
			zap.String("provider", cp.Provider),
			zap.Int("questions", len(cp.Questions)),
		)
	} else {
		cp, err = o.create(bench, req)
		if err != nil {
			return nil, err
		}
		logger.Info("run created",
			zap.String("provider", req.Provider),
			zap.String("benchmark", req.Benchmark),
			zap.Int("questions", len(cp.Questions)),
		)
	}

	deps := &Deps{
		Provider:    prov,
		Benchmark:   bench,
		Judge:       judge.NewLLMJudge(o.cfg.Client, cp.Judge, o.logger),
		Grader:      retrieval.NewEvaluator(o.cfg.Client, cp.Judge, o.logger),
		Answering:   o.cfg.Client,
		AnswerModel: cp.AnsweringModel,
		Tokenizer:   o.cfg.Tokenizer,
		TokenBudget: o.cfg.TokenBudget,
		SearchLimit: o.cfg.SearchLimit,
		Store:       o.cfg.Store,
		Metrics:     o.cfg.Metrics,
		Logger:      o.logger,
		Now:         o.cfg.Now,
	}

	o.cfg.Store.UpdateStatus(cp, checkpoint.RunRunning)
	if err := o.cfg.Store.Flush(cp); err != nil {
		return cp, err
	}

	for _, phase := range phases {
		if err := runnerFor(phase, deps).Run(ctx, cp, nil); err != nil {
			if !types.IsStopped(err) {
				o.cfg.Store.UpdateStatus(cp, checkpoint.RunFailed)
			}
			if ferr := o.cfg.Store.Flush(cp); ferr != nil {
				logger.Error("flush after phase error", zap.Error(ferr))
			}
			return cp, err
		}
	}

	o.cfg.Store.UpdateStatus(cp, checkpoint.RunCompleted)
	if err := o.cfg.Store.Flush(cp); err != nil {
		return cp, err
	}
	logger.Info("run completed", zap.Int("questions", len(cp.Questions)))
	return cp, nil
}

// Derive clones the source run from fromPhase onward under a new run id and
// executes the reset phases. Ingested data and container tags carry over, so
// the back half of the pipeline reruns without touching the memory store.
func (o *Orchestrator) Derive(ctx context.Context, sourceRunID, newRunID string, fromPhase checkpoint.Phase, req RunRequest) (*checkpoint.RunCheckpoint, error) {
	if newRunID == "" {
		newRunID = uuid.NewString()
	}
	src, err := o.cfg.Store.Load(sourceRunID)
	if err != nil {
		return nil, err
	}

	cp, err := o.cfg.Store.Copy(sourceRunID, newRunID, fromPhase)
	if err != nil {
		return nil, err
	}
	// A derived run may swap the judge or answering model; everything else
	// carries over from the source.
	if req.JudgeModel != "" {
		cp.Judge = req.JudgeModel
	}
	if req.AnsweringModel != "" {
		cp.AnsweringModel = req.AnsweringModel
	}
	if err := o.cfg.Store.Flush(cp); err != nil {
		return nil, err
	}

	req.RunID = newRunID
	req.Provider = src.Provider
	req.Benchmark = src.Benchmark
	req.Force = false
	req.Phases = checkpoint.Order[checkpoint.Index(fromPhase):]
	return o.Run(ctx, req)
}

// create materializes a fresh checkpoint with the sampled question set.
func (o *Orchestrator) create(bench benchmark.Benchmark, req RunRequest) (*checkpoint.RunCheckpoint, error) {
	cp := o.cfg.Store.Create(req.RunID, req.Provider, req.Benchmark, req.JudgeModel, req.AnsweringModel)
	cp.Sampling = req.Sampling
	cp.Concurrency = req.Concurrency

	questions := selectQuestions(bench.GetQuestions(nil), req.Sampling)
	if len(questions) == 0 {
		return nil, types.NewErrorf(types.ErrInvalidConfig,
			"benchmark %s yielded no questions under the sampling policy", req.Benchmark)
	}
	for _, q := range questions {
		cp.Questions[q.QuestionID] = &checkpoint.QuestionCheckpoint{
			QuestionID:   q.QuestionID,
			ContainerTag: ContainerTag(q.QuestionID, cp.EffectiveDataSourceRunID()),
			Question:     q.Question,
			GroundTruth:  q.GroundTruth,
			QuestionType: q.QuestionType,
			QuestionDate: q.QuestionDate,
		}
	}

	if err := o.cfg.Store.Flush(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// ContainerTag derives the per-question isolation key. It depends on the
// data-source run id, not the run id, so derived runs read the memories the
// source run ingested.
func ContainerTag(questionID, dataSourceRunID string) string {
	return fmt.Sprintf("q%s-%s", questionID, dataSourceRunID)
}

// orderPhases validates the requested phases and returns them in fixed
// pipeline order. Empty input means the full pipeline.
func orderPhases(requested []checkpoint.Phase) ([]checkpoint.Phase, error) {
	if len(requested) == 0 {
		return checkpoint.Order, nil
	}
	want := make(map[checkpoint.Phase]bool, len(requested))
	for _, p := range requested {
		if checkpoint.Index(p) < 0 {
			return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown phase %q", p)
		}
		want[p] = true
	}
	var out []checkpoint.Phase
	for _, p := range checkpoint.Order {
		if want[p] {
			out = append(out, p)
		}
	}
	return out, nil
}
