package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/provider"
	"github.com/BaSui01/membench/testutil/mocks"
	"github.com/BaSui01/membench/types"
)

// scriptedClient answers the three pipeline roles by dispatching on the
// system prompt.
func scriptedClient() *mocks.MockLLM {
	reply := func(model, text string) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Model:   model,
			Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: text}}},
		}, nil
	}
	return &mocks.MockLLM{
		CompletionFunc: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			sys := req.Messages[0].Content
			switch {
			case strings.Contains(sys, "grade search results"):
				return reply(req.Model, "[1]")
			case strings.Contains(sys, "strict grader"):
				return reply(req.Model, `{"score": 1, "label": "correct", "explanation": "matches"}`)
			default:
				return reply(req.Model, "Lisbon")
			}
		},
	}
}

func newTestOrchestrator(t *testing.T, prov *mocks.MockProvider) (*Orchestrator, *checkpoint.Store) {
	t.Helper()
	store := checkpoint.NewStore(checkpoint.StoreConfig{Dir: t.TempDir()}, zap.NewNop())
	reg := provider.NewRegistry()
	reg.Register("mock", func(*provider.Registry) (provider.Provider, error) { return prov, nil })

	o := NewOrchestrator(OrchestratorConfig{
		Store:      store,
		Registry:   reg,
		Benchmarks: map[string]benchmark.Benchmark{"fixture": mocks.NewFixtureBenchmark()},
		Client:     scriptedClient(),
	}, zap.NewNop())
	return o, store
}

func fullRunRequest() RunRequest {
	return RunRequest{
		RunID:          "run1",
		Provider:       "mock",
		Benchmark:      "fixture",
		JudgeModel:     "judge-m",
		AnsweringModel: "ans-m",
	}
}

func TestOrchestrator_FullRun(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{
		IngestResult:  &checkpoint.IngestResult{DocumentIDs: []string{"d1"}},
		SearchResults: []any{map[string]any{"content": "Ana moved to Lisbon"}},
	}
	o, store := newTestOrchestrator(t, prov)

	cp, err := o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunCompleted, cp.Status)
	require.Len(t, cp.Questions, 2)

	for _, id := range []string{"q1", "q2"} {
		q := cp.Questions[id]
		assert.Equal(t, ContainerTag(id, "run1"), q.ContainerTag)
		for _, p := range checkpoint.Order {
			assert.Equal(t, checkpoint.StatusCompleted, q.PhaseState(p).Status,
				"question %s phase %s", id, p)
		}

		search := q.PhaseState(checkpoint.PhaseSearch)
		require.NotEmpty(t, search.ResultFile)
		_, serr := os.Stat(search.ResultFile)
		assert.NoError(t, serr, "search result file must exist on disk")

		assert.Equal(t, "Lisbon", q.PhaseState(checkpoint.PhaseAnswer).Hypothesis)

		eval := q.PhaseState(checkpoint.PhaseEvaluate)
		require.NotNil(t, eval.Score)
		assert.Equal(t, 1, *eval.Score)
		require.NotNil(t, eval.Retrieval)
		assert.Equal(t, 1.0, eval.Retrieval.HitAtK)
	}

	// The persisted checkpoint matches the returned one.
	reloaded, err := store.Load("run1")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunCompleted, reloaded.Status)
}

func TestOrchestrator_ResumeIsIdempotent(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchResults: []any{map[string]any{"content": "x"}}}
	o, _ := newTestOrchestrator(t, prov)

	_, err := o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)
	firstIngests := len(prov.IngestCalls())
	firstSearches := len(prov.SearchCalls())

	cp, err := o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunCompleted, cp.Status)
	assert.Len(t, prov.IngestCalls(), firstIngests, "completed phases must not re-run on resume")
	assert.Len(t, prov.SearchCalls(), firstSearches)
}

func TestOrchestrator_ForceDiscardsCheckpoint(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchResults: []any{map[string]any{"content": "x"}}}
	o, _ := newTestOrchestrator(t, prov)

	_, err := o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)

	req := fullRunRequest()
	req.Force = true
	_, err = o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, prov.IngestCalls(), 4, "force must rerun both questions from scratch")
}

func TestOrchestrator_PhaseFailureMarksRunFailed(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchErr: errors.New("index unavailable")}
	o, store := newTestOrchestrator(t, prov)

	cp, err := o.Run(context.Background(), fullRunRequest())
	require.Error(t, err)
	assert.Equal(t, types.ErrPhaseFailed, types.CodeOf(err))
	assert.Equal(t, checkpoint.RunFailed, cp.Status)

	reloaded, lerr := store.Load("run1")
	require.NoError(t, lerr)
	assert.Equal(t, checkpoint.RunFailed, reloaded.Status)
}

func TestOrchestrator_ResumeAfterFailureFinishes(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{
		SearchErr:     errors.New("index unavailable"),
		SearchResults: []any{map[string]any{"content": "x"}},
	}
	o, _ := newTestOrchestrator(t, prov)

	_, err := o.Run(context.Background(), fullRunRequest())
	require.Error(t, err)

	prov.SearchErr = nil
	cp, err := o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunCompleted, cp.Status)
	for _, q := range cp.Questions {
		assert.Equal(t, checkpoint.StatusCompleted, q.PhaseState(checkpoint.PhaseEvaluate).Status)
	}
}

func TestOrchestrator_StopIsResumable(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchResults: []any{map[string]any{"content": "x"}}}
	o, _ := newTestOrchestrator(t, prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cp, err := o.Run(ctx, fullRunRequest())
	require.Error(t, err)
	assert.True(t, types.IsStopped(err))
	assert.NotEqual(t, checkpoint.RunFailed, cp.Status, "a stop is not a failure")

	cp, err = o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunCompleted, cp.Status)
}

func TestOrchestrator_UnknownNamesFailBeforeCheckpoint(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{}
	o, store := newTestOrchestrator(t, prov)

	req := fullRunRequest()
	req.Benchmark = "ghost"
	_, err := o.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownBenchmark, types.CodeOf(err))

	req = fullRunRequest()
	req.Provider = "ghost"
	_, err = o.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownProvider, types.CodeOf(err))

	assert.False(t, store.Exists("run1"), "config errors must not create a checkpoint")
}

func TestOrchestrator_SamplingLimit(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchResults: []any{map[string]any{"content": "x"}}}
	o, _ := newTestOrchestrator(t, prov)

	req := fullRunRequest()
	req.Sampling = checkpoint.SamplingConfig{Mode: SamplingLimit, Limit: 1}
	cp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, cp.Questions, 1)
	assert.Contains(t, cp.Questions, "q1")
}

func TestOrchestrator_DeriveRerunsBackHalf(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchResults: []any{map[string]any{"content": "x"}}}
	o, _ := newTestOrchestrator(t, prov)

	_, err := o.Run(context.Background(), fullRunRequest())
	require.NoError(t, err)
	baseIngests := len(prov.IngestCalls())
	baseSearches := len(prov.SearchCalls())

	cp, err := o.Derive(context.Background(), "run1", "run2", checkpoint.PhaseSearch, RunRequest{
		JudgeModel: "judge-v2",
	})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.RunCompleted, cp.Status)
	assert.Equal(t, "run2", cp.RunID)
	assert.Equal(t, "run1", cp.DataSourceRunID)
	assert.Equal(t, "judge-v2", cp.Judge)

	// Ingested data carries over; only search and later rerun.
	assert.Len(t, prov.IngestCalls(), baseIngests)
	assert.Len(t, prov.SearchCalls(), baseSearches+2)
	for _, q := range cp.Questions {
		assert.Equal(t, ContainerTag(q.QuestionID, "run1"), q.ContainerTag,
			"container tags must stay bound to the data-source run")
	}
}

func TestOrchestrator_PhaseSubset(t *testing.T) {
	t.Parallel()

	prov := &mocks.MockProvider{SearchResults: []any{map[string]any{"content": "x"}}}
	o, _ := newTestOrchestrator(t, prov)

	req := fullRunRequest()
	req.Phases = []checkpoint.Phase{checkpoint.PhaseIndexing, checkpoint.PhaseIngest}
	cp, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	for _, q := range cp.Questions {
		assert.Equal(t, checkpoint.StatusCompleted, q.PhaseState(checkpoint.PhaseIngest).Status)
		assert.Equal(t, checkpoint.StatusCompleted, q.PhaseState(checkpoint.PhaseIndexing).Status)
		assert.Equal(t, checkpoint.StatusPending, q.PhaseState(checkpoint.PhaseSearch).Status)
	}
	assert.Empty(t, prov.SearchCalls())
}
