package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
)

func fixtureQuestions() []benchmark.Question {
	var out []benchmark.Question
	for i := 0; i < 6; i++ {
		out = append(out, benchmark.Question{
			QuestionID:   fmt.Sprintf("sh%d", i),
			QuestionType: "single-hop",
		})
	}
	for i := 0; i < 4; i++ {
		out = append(out, benchmark.Question{
			QuestionID:   fmt.Sprintf("mh%d", i),
			QuestionType: "multi-hop",
		})
	}
	return out
}

func ids(qs []benchmark.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.QuestionID
	}
	return out
}

func TestSelectQuestions_AllAndLimit(t *testing.T) {
	t.Parallel()

	qs := fixtureQuestions()

	assert.Len(t, selectQuestions(qs, checkpoint.SamplingConfig{}), 10)
	assert.Len(t, selectQuestions(qs, checkpoint.SamplingConfig{Mode: SamplingAll}), 10)

	got := selectQuestions(qs, checkpoint.SamplingConfig{Mode: SamplingLimit, Limit: 3})
	assert.Equal(t, []string{"sh0", "sh1", "sh2"}, ids(got))

	// A limit beyond the dataset is a no-op.
	assert.Len(t, selectQuestions(qs, checkpoint.SamplingConfig{Mode: SamplingLimit, Limit: 99}), 10)
}

func TestSelectQuestions_SampleConsecutive(t *testing.T) {
	t.Parallel()

	got := selectQuestions(fixtureQuestions(), checkpoint.SamplingConfig{
		Mode:        SamplingSample,
		PerCategory: 2,
	})
	assert.Equal(t, []string{"sh0", "sh1", "mh0", "mh1"}, ids(got))
}

func TestSelectQuestions_SampleRandomSeeded(t *testing.T) {
	t.Parallel()

	cfg := checkpoint.SamplingConfig{
		Mode:        SamplingSample,
		PerCategory: 3,
		Random:      true,
		Seed:        42,
	}

	first := ids(selectQuestions(fixtureQuestions(), cfg))
	second := ids(selectQuestions(fixtureQuestions(), cfg))
	assert.Equal(t, first, second, "same seed must pick the same questions")
	require.Len(t, first, 6)

	// Dataset order is preserved within the pick.
	byType := map[string][]string{}
	for _, id := range first {
		byType[id[:2]] = append(byType[id[:2]], id)
	}
	assert.Len(t, byType["sh"], 3)
	assert.Len(t, byType["mh"], 3)
	assert.IsIncreasing(t, byType["sh"])
	assert.IsIncreasing(t, byType["mh"])
}

func TestSelectQuestions_SampleSmallCategoryKept(t *testing.T) {
	t.Parallel()

	got := selectQuestions(fixtureQuestions(), checkpoint.SamplingConfig{
		Mode:        SamplingSample,
		PerCategory: 5,
	})
	// multi-hop has only 4 questions; all of them survive.
	assert.Len(t, got, 9)
}
