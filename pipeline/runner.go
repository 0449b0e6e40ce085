package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/internal/telemetry"
	"github.com/BaSui01/membench/judge"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/provider"
	"github.com/BaSui01/membench/retrieval"
	"github.com/BaSui01/membench/types"
)

// Deps bundles the collaborators phase runners call out to. One Deps value
// serves a whole run.
type Deps struct {
	Provider  provider.Provider
	Benchmark benchmark.Benchmark
	Judge     judge.Judge
	Grader    *retrieval.Evaluator

	// Answering is the client the answer phase calls; AnswerModel may be
	// empty to use the client's default.
	Answering   llm.Provider
	AnswerModel string

	// Tokenizer and TokenBudget bound the retrieved context in the answer
	// prompt. Budget 0 disables truncation.
	Tokenizer   llm.Tokenizer
	TokenBudget int

	// SearchLimit caps results per search; 0 means provider default.
	SearchLimit int

	Store   *checkpoint.Store
	Metrics *telemetry.Collector
	Logger  *zap.Logger
	Now     func() time.Time
}

func (d *Deps) clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// execFunc performs one phase's external work for one question and returns
// the payload patch to merge on success. The returned patch must not set
// status or timing fields; the runner owns those.
type execFunc func(ctx context.Context, cp *checkpoint.RunCheckpoint, q *checkpoint.QuestionCheckpoint) (checkpoint.PhasePatch, error)

// phaseRunner advances one phase for a set of questions with bounded
// concurrency. All runners share the same template; only exec differs.
type phaseRunner struct {
	phase  checkpoint.Phase
	deps   *Deps
	exec   execFunc
	logger *zap.Logger
}

func newPhaseRunner(phase checkpoint.Phase, deps *Deps, exec execFunc) *phaseRunner {
	return &phaseRunner{
		phase: phase,
		deps:  deps,
		exec:  exec,
		logger: deps.Logger.With(
			zap.String("component", "phase_runner"),
			zap.String("phase", string(phase)),
		),
	}
}

// Run advances the phase for the target questions (nil means every question
// in the checkpoint). Eligible questions are processed by a worker pool sized
// by ResolveConcurrency; the first failure aborts the run.
func (r *phaseRunner) Run(ctx context.Context, cp *checkpoint.RunCheckpoint, questionIDs []string) error {
	if questionIDs == nil {
		questionIDs = cp.QuestionIDs()
	}

	eligible := r.eligible(cp, questionIDs)
	if len(eligible) == 0 {
		r.logger.Info("no eligible questions, phase is a no-op", zap.String("run_id", cp.RunID))
		return nil
	}

	workers := ResolveConcurrency(r.phase, cp.Concurrency, providerDefaults(r.deps.Provider))
	r.logger.Info("phase starting",
		zap.String("run_id", cp.RunID),
		zap.Int("questions", len(eligible)),
		zap.Int("workers", workers),
	)

	// A plain errgroup (no context cancellation) so an in-flight question
	// always runs to completion; aborted gates new launches after the
	// first failure or a stop request.
	var aborted atomic.Bool
	var g errgroup.Group
	g.SetLimit(workers)

	for _, id := range eligible {
		g.Go(func() error {
			if aborted.Load() {
				return nil
			}
			if ctx.Err() != nil {
				aborted.Store(true)
				return types.NewErrorf(types.ErrRunStopped,
					"run %s stopped, resume it with the same run id", cp.RunID).WithRunID(cp.RunID)
			}
			if err := r.runQuestion(ctx, cp, id); err != nil {
				aborted.Store(true)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// eligible filters to questions whose prior phase is completed and whose own
// phase is not. A failed prior phase is skipped with a warning, never
// advanced.
func (r *phaseRunner) eligible(cp *checkpoint.RunCheckpoint, questionIDs []string) []string {
	prior, hasPrior := checkpoint.Prior(r.phase)

	var out []string
	for _, id := range questionIDs {
		if _, ok := cp.Questions[id]; !ok {
			r.logger.Warn("unknown question skipped", zap.String("question_id", id))
			continue
		}
		if r.deps.Store.GetPhaseStatus(cp, id, r.phase) == checkpoint.StatusCompleted {
			r.logger.Debug("phase already completed, skipping", zap.String("question_id", id))
			continue
		}
		if hasPrior {
			if st := r.deps.Store.GetPhaseStatus(cp, id, prior); st != checkpoint.StatusCompleted {
				r.logger.Warn("prior phase not completed, skipping question",
					zap.String("question_id", id),
					zap.String("prior_phase", string(prior)),
					zap.String("prior_status", string(st)),
				)
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

func (r *phaseRunner) runQuestion(ctx context.Context, cp *checkpoint.RunCheckpoint, questionID string) error {
	q := cp.Questions[questionID]
	store := r.deps.Store

	spanCtx, span := telemetry.StartPhaseSpan(ctx, string(r.phase), cp.RunID, questionID)
	defer span.End()

	started := r.deps.clock().UTC()
	store.UpdatePhase(cp, questionID, r.phase, checkpoint.PhasePatch{
		Status:    statusPtr(checkpoint.StatusInProgress),
		StartedAt: &started,
	})

	patch, err := r.exec(spanCtx, cp, q)
	finished := r.deps.clock().UTC()
	duration := finished.Sub(started)

	if r.deps.Metrics != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		r.deps.Metrics.ObservePhase(string(r.phase), status, duration)
	}

	if err != nil {
		msg := err.Error()
		store.UpdatePhase(cp, questionID, r.phase, checkpoint.PhasePatch{
			Status: statusPtr(checkpoint.StatusFailed),
			Error:  &msg,
		})
		if ferr := store.Flush(cp); ferr != nil {
			r.logger.Error("flush after phase failure", zap.Error(ferr))
		}
		r.logger.Error("phase failed",
			zap.String("run_id", cp.RunID),
			zap.String("question_id", questionID),
			zap.Error(err),
		)
		return types.NewErrorf(types.ErrPhaseFailed,
			"phase %s failed for question %s; fix the cause and resume run %s",
			r.phase, questionID, cp.RunID).WithRunID(cp.RunID).WithCause(err)
	}

	durationMs := duration.Milliseconds()
	patch.Status = statusPtr(checkpoint.StatusCompleted)
	patch.CompletedAt = &finished
	patch.DurationMs = &durationMs
	store.UpdatePhase(cp, questionID, r.phase, patch)
	if ferr := store.Flush(cp); ferr != nil {
		return ferr
	}

	r.logger.Debug("phase completed for question",
		zap.String("question_id", questionID),
		zap.Int64("duration_ms", durationMs),
	)
	return nil
}

func providerDefaults(p provider.Provider) checkpoint.ConcurrencyOverrides {
	if h, ok := p.(provider.ConcurrencyHinter); ok {
		return h.ConcurrencyDefaults()
	}
	return checkpoint.ConcurrencyOverrides{}
}

func statusPtr(s checkpoint.PhaseStatus) *checkpoint.PhaseStatus { return &s }
