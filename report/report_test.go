package report

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membench/checkpoint"
)

func intPtr(v int) *int { return &v }

func completedQuestion(id, qtype string, score int, searchMs int64, m *checkpoint.RetrievalMetrics) *checkpoint.QuestionCheckpoint {
	q := &checkpoint.QuestionCheckpoint{
		QuestionID:   id,
		QuestionType: qtype,
	}
	for _, p := range checkpoint.Order {
		pc := q.PhaseState(p)
		pc.Status = checkpoint.StatusCompleted
		pc.DurationMs = 10
	}
	q.PhaseState(checkpoint.PhaseSearch).DurationMs = searchMs
	eval := q.PhaseState(checkpoint.PhaseEvaluate)
	eval.Score = intPtr(score)
	eval.Retrieval = m
	return q
}

func testCheckpoint() *checkpoint.RunCheckpoint {
	return &checkpoint.RunCheckpoint{
		RunID:          "run1",
		Status:         checkpoint.RunCompleted,
		Provider:       "memstore",
		Benchmark:      "fixture",
		Judge:          "judge-m",
		AnsweringModel: "ans-m",
		Questions: map[string]*checkpoint.QuestionCheckpoint{
			"q1": completedQuestion("q1", "single-hop", 1, 100,
				&checkpoint.RetrievalMetrics{HitAtK: 1, PrecisionAtK: 0.5, MRR: 1, NDCG: 0.9}),
			"q2": completedQuestion("q2", "single-hop", 0, 200,
				&checkpoint.RetrievalMetrics{HitAtK: 0}),
			"q3": completedQuestion("q3", "multi-hop", 1, 300,
				&checkpoint.RetrievalMetrics{HitAtK: 1, PrecisionAtK: 1, MRR: 0.5, NDCG: 0.7}),
		},
	}
}

func TestFold(t *testing.T) {
	t.Parallel()

	s := Fold(testCheckpoint(), time.Now())

	assert.Equal(t, "run1", s.RunID)
	assert.Equal(t, 3, s.Questions)
	assert.Equal(t, 3, s.Evaluated)
	assert.Equal(t, 2, s.Correct)
	assert.InDelta(t, 2.0/3, s.Accuracy, 1e-9)

	assert.InDelta(t, 0.5, s.AccuracyByType["single-hop"], 1e-9)
	assert.InDelta(t, 1.0, s.AccuracyByType["multi-hop"], 1e-9)

	assert.InDelta(t, 2.0/3, s.Retrieval.MeanHitAtK, 1e-9)
	assert.InDelta(t, 0.5, s.Retrieval.MeanMRR, 1e-9)
	assert.Equal(t, 3, s.Retrieval.Graded)

	search := s.Latency[checkpoint.PhaseSearch]
	assert.InDelta(t, 200, search.MeanMs, 1e-9)
	assert.Equal(t, int64(200), search.P50Ms)
	assert.Equal(t, int64(300), search.MaxMs)
}

func TestFold_IncompleteQuestionsExcluded(t *testing.T) {
	t.Parallel()

	cp := testCheckpoint()
	cp.Questions["q4"] = &checkpoint.QuestionCheckpoint{QuestionID: "q4", QuestionType: "single-hop"}

	s := Fold(cp, time.Now())
	assert.Equal(t, 4, s.Questions)
	assert.Equal(t, 3, s.Evaluated)
}

func TestFold_EmptyRun(t *testing.T) {
	t.Parallel()

	s := Fold(&checkpoint.RunCheckpoint{RunID: "empty", Questions: map[string]*checkpoint.QuestionCheckpoint{}}, time.Now())
	assert.Equal(t, 0, s.Evaluated)
	assert.Equal(t, 0.0, s.Accuracy)
	assert.Empty(t, s.Latency)
}

func TestGenerator_GenerateAndWrite(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(checkpoint.StoreConfig{Dir: t.TempDir()}, zap.NewNop())
	cp := testCheckpoint()
	require.NoError(t, store.Flush(cp))

	g := NewGenerator(store, zap.NewNop())
	s, err := g.Generate("run1")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Evaluated)

	path, err := g.Write(s)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Summary
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, s.Correct, back.Correct)
	assert.InDelta(t, s.Accuracy, back.Accuracy, 1e-9)
}

func TestGenerator_MissingRun(t *testing.T) {
	t.Parallel()

	store := checkpoint.NewStore(checkpoint.StoreConfig{Dir: t.TempDir()}, zap.NewNop())
	g := NewGenerator(store, zap.NewNop())
	_, err := g.Generate("ghost")
	require.Error(t, err)
}

func TestPercentileIndex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, percentileIndex(1, 50))
	assert.Equal(t, 0, percentileIndex(2, 50))
	assert.Equal(t, 1, percentileIndex(3, 50))
	assert.Equal(t, 18, percentileIndex(20, 95))
	assert.Equal(t, 99, percentileIndex(100, 100))
}
