package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/pipeline"
	"github.com/BaSui01/membench/provider"
	"github.com/BaSui01/membench/testutil/mocks"
)

func comparisonClient() *mocks.MockLLM {
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

func newTestCoordinator(t *testing.T, providers map[string]*mocks.MockProvider) *Coordinator {
	t.Helper()
	store := checkpoint.NewStore(checkpoint.StoreConfig{Dir: t.TempDir()}, zap.NewNop())
	reg := provider.NewRegistry()
	for name, p := range providers {
		reg.Register(name, func(*provider.Registry) (provider.Provider, error) { return p, nil })
	}

	o := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:      store,
		Registry:   reg,
		Benchmarks: map[string]benchmark.Benchmark{"fixture": mocks.NewFixtureBenchmark()},
		Client:     comparisonClient(),
	}, zap.NewNop())
	return NewCoordinator(o, NewGenerator(store, zap.NewNop()), zap.NewNop())
}

func searchHit() []any {
	return []any{map[string]any{"content": "Ana moved to Lisbon"}}
}

func TestCoordinator_Compare(t *testing.T) {
	t.Parallel()

	a := &mocks.MockProvider{ProviderName: "a", SearchResults: searchHit()}
	b := &mocks.MockProvider{ProviderName: "b", SearchResults: searchHit()}
	c := newTestCoordinator(t, map[string]*mocks.MockProvider{"a": a, "b": b})

	m, err := c.Compare(context.Background(), CompareRequest{
		Providers:  []string{"a", "b"},
		Benchmark:  "fixture",
		JudgeModel: "judge-m",
	})
	require.NoError(t, err)
	require.Len(t, m.Runs, 2)

	for _, run := range m.Runs {
		assert.Empty(t, run.Error)
		require.NotNil(t, run.Summary, "provider %s", run.Provider)
		assert.Equal(t, 1.0, run.Summary.Accuracy)
		assert.Equal(t, 2, run.Summary.Evaluated)
	}
	assert.NotEqual(t, m.Runs[0].RunID, m.Runs[1].RunID, "runs must be isolated by run id")

	// Both providers were exercised under their own container tags.
	for _, tag := range a.IngestCalls() {
		assert.Contains(t, tag, m.Runs[0].RunID)
	}
	for _, tag := range b.IngestCalls() {
		assert.Contains(t, tag, m.Runs[1].RunID)
	}
}

func TestCoordinator_ToleratesIndividualFailure(t *testing.T) {
	t.Parallel()

	good := &mocks.MockProvider{ProviderName: "good", SearchResults: searchHit()}
	bad := &mocks.MockProvider{ProviderName: "bad", IngestErr: errors.New("upstream down")}
	c := newTestCoordinator(t, map[string]*mocks.MockProvider{"good": good, "bad": bad})

	m, err := c.Compare(context.Background(), CompareRequest{
		Providers:  []string{"good", "bad"},
		Benchmark:  "fixture",
		JudgeModel: "judge-m",
	})
	require.NoError(t, err, "one failed run must not fail the comparison")

	byName := map[string]ProviderRun{}
	for _, run := range m.Runs {
		byName[run.Provider] = run
	}
	assert.NotNil(t, byName["good"].Summary)
	assert.Nil(t, byName["bad"].Summary)
	assert.Contains(t, byName["bad"].Error, "upstream down")
}

func TestCoordinator_AllRunsFailed(t *testing.T) {
	t.Parallel()

	bad := &mocks.MockProvider{ProviderName: "bad", IngestErr: errors.New("down")}
	c := newTestCoordinator(t, map[string]*mocks.MockProvider{"bad": bad})

	_, err := c.Compare(context.Background(), CompareRequest{
		Providers:  []string{"bad"},
		Benchmark:  "fixture",
		JudgeModel: "judge-m",
	})
	require.Error(t, err)
}

func TestCoordinator_EnsembleLift(t *testing.T) {
	t.Parallel()

	// The solo provider misses, the ensemble-named run hits.
	solo := &mocks.MockProvider{ProviderName: "solo", SearchResults: []any{map[string]any{"content": "nothing useful"}}}
	ens := &mocks.MockProvider{ProviderName: "ensemble", SearchResults: searchHit()}

	store := checkpoint.NewStore(checkpoint.StoreConfig{Dir: t.TempDir()}, zap.NewNop())
	reg := provider.NewRegistry()
	reg.Register("solo", func(*provider.Registry) (provider.Provider, error) { return solo, nil })
	reg.Register("ensemble", func(*provider.Registry) (provider.Provider, error) { return ens, nil })

	client := &mocks.MockLLM{
		CompletionFunc: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			sys := req.Messages[0].Content
			user := req.Messages[1].Content
			text := "Lisbon"
			switch {
			case strings.Contains(sys, "grade search results"):
				text = "[1]"
			case strings.Contains(sys, "strict grader"):
				// Only answers grounded in a real hit grade correct.
				if strings.Contains(user, "Lisbon") && strings.Contains(user, "Candidate answer: Lisbon") {
					text = `{"score": 1, "label": "correct"}`
				} else {
					text = `{"score": 0, "label": "incorrect"}`
				}
			default:
				if !strings.Contains(user, "Lisbon") {
					text = "I do not know"
				}
			}
			return &llm.ChatResponse{
				Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: text}}},
			}, nil
		},
	}

	o := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:      store,
		Registry:   reg,
		Benchmarks: map[string]benchmark.Benchmark{"fixture": mocks.NewFixtureBenchmark()},
		Client:     client,
	}, zap.NewNop())
	c := NewCoordinator(o, NewGenerator(store, zap.NewNop()), zap.NewNop())

	m, err := c.Compare(context.Background(), CompareRequest{
		Providers:  []string{"solo", "ensemble"},
		Benchmark:  "fixture",
		JudgeModel: "judge-m",
	})
	require.NoError(t, err)
	require.NotNil(t, m.Lift)
	assert.Equal(t, "solo", m.Lift.BestIndividual)
	assert.Equal(t, 1.0, m.Lift.EnsembleAccuracy)
	assert.Equal(t, 0.0, m.Lift.BestAccuracy)
	assert.InDelta(t, 1.0, m.Lift.AbsoluteLift, 1e-9)

	out := m.Render()
	assert.Contains(t, out, "ensemble")
	assert.Contains(t, out, "Ensemble lift over solo")
}

func TestManifest_RenderFailedRun(t *testing.T) {
	t.Parallel()

	m := &Manifest{
		Benchmark: "fixture",
		Runs: []ProviderRun{
			{Provider: "a", RunID: "r1", Summary: &Summary{Accuracy: 0.5, Latency: map[checkpoint.Phase]PhaseLatency{}}},
			{Provider: "b", RunID: "r2", Error: "boom\ndetails"},
		},
	}
	out := m.Render()
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "details")
}
