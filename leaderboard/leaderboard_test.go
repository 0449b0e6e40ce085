package leaderboard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/report"
)

func summary(provider string, accuracy float64) *report.Summary {
	return &report.Summary{
		RunID:          "run-" + provider,
		Provider:       provider,
		Benchmark:      "fixture",
		Judge:          "judge-m",
		AnsweringModel: "ans-m",
		Questions:      10,
		Evaluated:      10,
		Accuracy:       accuracy,
		Retrieval:      report.RetrievalSummary{MeanHitAtK: accuracy, MeanNDCG: accuracy},
		Latency: map[checkpoint.Phase]report.PhaseLatency{
			checkpoint.PhaseSearch: {P95Ms: 120},
		},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "board.db"), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.Record(summary("memstore", 0.6)))
	require.NoError(t, s.Record(summary("ensemble", 0.8)))

	entries, err := s.List("fixture")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ensemble", entries[0].Provider, "best accuracy lists first")
	assert.Equal(t, "memstore", entries[1].Provider)
	assert.Equal(t, int64(120), entries[0].SearchP95Ms)
}

func TestStore_RecordUpserts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.Record(summary("memstore", 0.4)))
	require.NoError(t, s.Record(summary("memstore", 0.7)))

	entries, err := s.List("fixture")
	require.NoError(t, err)
	require.Len(t, entries, 1, "same provider/benchmark/judge must overwrite")
	assert.InDelta(t, 0.7, entries[0].Accuracy, 1e-9)
}

func TestStore_ListFiltersBenchmark(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.Record(summary("memstore", 0.5)))

	other := summary("memstore", 0.9)
	other.Benchmark = "other"
	require.NoError(t, s.Record(other))

	entries, err := s.List("fixture")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.5, entries[0].Accuracy, 1e-9)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
