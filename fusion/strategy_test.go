package fusion

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/membench/testutil/mocks"
	"github.com/BaSui01/membench/types"
)

// fillerName builds a unique throwaway result text per list and position.
func fillerName(list string, i int) string {
	return list + "-filler-" + strconv.Itoa(i)
}

func result(text string) map[string]any {
	return map[string]any{"content": text}
}

func results(texts ...string) []any {
	out := make([]any, len(texts))
	for i, s := range texts {
		out[i] = result(s)
	}
	return out
}

func contents(t rapid.TB, fused []any) []string {
	t.Helper()
	d := NewDeduplicator()
	out := make([]string, len(fused))
	for i, r := range fused {
		out[i] = d.ExtractContent(r)
	}
	return out
}

func TestNew_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Name: "borda"}, nil, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownStrategy, types.CodeOf(err))
}

func TestUnion_PreservesFirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyUnion}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results("x", "y")},
		{ProviderName: "b", Results: results("y", "w", "x", "v")},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "w", "v"}, contents(t, fused))
}

func TestUnion_Truncates(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyUnion}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results("x", "y", "z")},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, contents(t, fused))
}

func TestRRF_TieResolvedByOriginalOrder(t *testing.T) {
	t.Parallel()

	// Provider A returns [x,y,z], provider B returns [y,x,w].
	// score(x) = 1/61 + 1/62 and score(y) = 1/62 + 1/61: an exact tie,
	// resolved by stable first-seen order (x before y).
	s, err := New(Config{Name: StrategyRRF, K: 60}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results("x", "y", "z")},
		{ProviderName: "b", Results: results("y", "x", "w")},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z", "w"}, contents(t, fused))
}

func TestRRF_DuplicatesOutrankSingles(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyRRF}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results("solo", "both")},
		{ProviderName: "b", Results: results("both")},
	}, 10)
	require.NoError(t, err)
	// both: 1/62 + 1/61 > solo: 1/61.
	assert.Equal(t, []string{"both", "solo"}, contents(t, fused))
}

func TestRRF_SmallerRankScoresStrictlyHigher(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 120).Draw(t, "k")
		r1 := rapid.IntRange(0, 50).Draw(t, "r1")
		r2 := rapid.IntRange(r1+1, 100).Draw(t, "r2")

		s, err := New(Config{Name: StrategyRRF, K: k}, nil, nil)
		require.NoError(t, err)

		// Provider a returns "low" at rank r1, provider b returns "high" at
		// the strictly larger rank r2. Their scores are single contributions
		// 1/(k+r1+1) and 1/(k+r2+1), so "low" must always rank above "high".
		listA := make([]any, r1+1)
		for i := 0; i < r1; i++ {
			listA[i] = result(fillerName("a", i))
		}
		listA[r1] = result("low")

		listB := make([]any, r2+1)
		for i := 0; i < r2; i++ {
			listB[i] = result(fillerName("b", i))
		}
		listB[r2] = result("high")

		fused, err := s.Fuse(context.Background(), []ProviderOutput{
			{ProviderName: "a", Results: listA},
			{ProviderName: "b", Results: listB},
		}, 0)
		require.NoError(t, err)

		got := contents(t, fused)
		lowPos, highPos := -1, -1
		for i, c := range got {
			switch c {
			case "low":
				lowPos = i
			case "high":
				highPos = i
			}
		}
		require.GreaterOrEqual(t, lowPos, 0)
		require.GreaterOrEqual(t, highPos, 0)
		assert.Less(t, lowPos, highPos)
	})
}

func TestWeighted_NativeScoreAndWeight(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyWeighted}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Weight: 1, Results: []any{
			map[string]any{"content": "scored", "score": 0.4},
			map[string]any{"content": "ranked"},
		}},
		{ProviderName: "b", Weight: 3, Results: []any{
			map[string]any{"content": "heavy", "score": 0.5},
		}},
	}, 10)
	require.NoError(t, err)
	// heavy: 3*0.5 = 1.5 > ranked: 1*1/2 = 0.5 > scored: 1*0.4.
	assert.Equal(t, []string{"heavy", "ranked", "scored"}, contents(t, fused))
}

func TestWeighted_DuplicatesAccumulate(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyWeighted}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Weight: 1, Results: []any{
			map[string]any{"content": "shared", "score": 0.3},
			map[string]any{"content": "alone", "score": 0.5},
		}},
		{ProviderName: "b", Weight: 1, Results: []any{
			map[string]any{"content": "shared", "score": 0.3},
		}},
	}, 10)
	require.NoError(t, err)
	// shared accumulates 0.6 and overtakes alone's 0.5.
	assert.Equal(t, []string{"shared", "alone"}, contents(t, fused))
}

func TestNew_VotingThreshold(t *testing.T) {
	t.Parallel()

	// Omitted (zero) defaults to 1.
	s, err := New(Config{Name: StrategyVoting}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.(*VotingStrategy).threshold)

	_, err = New(Config{Name: StrategyVoting, Threshold: -1}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.CodeOf(err))
}

func TestVoting_ThresholdDropsSingletons(t *testing.T) {
	t.Parallel()

	// Three providers; m appears in 1 and 3 (2 votes), n in all three
	// (3 votes), the rest are singletons and must be dropped at threshold 2.
	s, err := New(Config{Name: StrategyVoting, Threshold: 2}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "p1", Results: results("m", "n", "only1")},
		{ProviderName: "p2", Results: results("n", "only2")},
		{ProviderName: "p3", Results: results("n", "m")},
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "m"}, contents(t, fused))
}

func TestVoting_TieBrokenByAverageRank(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyVoting, Threshold: 1}, nil, nil)
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "p1", Results: results("late", "early")},
		{ProviderName: "p2", Results: results("early", "late")},
	}, 10)
	require.NoError(t, err)
	// Both have 2 votes; early's average rank (0+1)/2 ties late's (1+0)/2,
	// so first-seen order wins: late was seen first.
	assert.Equal(t, []string{"late", "early"}, contents(t, fused))
}

func TestVoting_OneVotePerProvider(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Name: StrategyVoting, Threshold: 2}, nil, nil)
	require.NoError(t, err)

	// p1 returns the same content twice; that is still a single vote, so
	// the threshold of 2 is not met.
	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "p1", Results: results("dup", "dup")},
		{ProviderName: "p2", Results: results("other")},
	}, 10)
	require.NoError(t, err)
	assert.Empty(t, fused)
}

func TestLLMRerank_SkipsCallWhenWithinLimit(t *testing.T) {
	t.Parallel()

	mock := &mocks.MockLLM{Response: "[0]"}
	s, err := New(Config{Name: StrategyLLMRerank}, mock, zap.NewNop())
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results("x", "y")},
	}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, contents(t, fused))
	assert.Zero(t, mock.CallCount())
}

func TestLLMRerank_OrdersByModelIndices(t *testing.T) {
	t.Parallel()

	mock := &mocks.MockLLM{Response: "Here you go: [2, 0]"}
	s, err := New(Config{Name: StrategyLLMRerank}, mock, zap.NewNop())
	require.NoError(t, err)

	fused, err := s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results("x", "y", "z")},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "x"}, contents(t, fused))
	assert.Equal(t, 1, mock.CallCount())
}

func TestLLMRerank_FallsBackOnGarbage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mock *mocks.MockLLM
	}{
		{name: "non-JSON response", mock: &mocks.MockLLM{Response: "I cannot rank these."}},
		{name: "upstream error", mock: &mocks.MockLLM{Err: errors.New("rate limited")}},
		{name: "out-of-range indices", mock: &mocks.MockLLM{Response: "[9, 12]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Config{Name: StrategyLLMRerank}, tt.mock, zap.NewNop())
			require.NoError(t, err)

			fused, err := s.Fuse(context.Background(), []ProviderOutput{
				{ProviderName: "a", Results: results("x", "y", "z")},
			}, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"x", "y"}, contents(t, fused))
		})
	}
}

func TestLLMRerank_ClipsSnippetsOnRuneBoundaries(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("記", snippetMaxLen+100)
	mock := &mocks.MockLLM{Response: "[0, 1]"}
	s, err := New(Config{Name: StrategyLLMRerank}, mock, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Fuse(context.Background(), []ProviderOutput{
		{ProviderName: "a", Results: results(long, "y", "z")},
	}, 2)
	require.NoError(t, err)
	require.Equal(t, 1, mock.CallCount())

	prompt := mock.Calls()[0].Messages[1].Content
	assert.True(t, utf8.ValidString(prompt), "a clipped snippet must not split a rune")
	assert.Contains(t, prompt, "[0] "+strings.Repeat("記", snippetMaxLen)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("記", snippetMaxLen+1))
}

func TestClipRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", clipRunes("abc", 5))
	assert.Equal(t, "ab", clipRunes("abcd", 2))
	assert.Equal(t, "hél", clipRunes("héllo", 3))
	assert.True(t, utf8.ValidString(clipRunes(strings.Repeat("é", 10), 7)))
}

func TestStrategies_Deterministic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		nameGen := rapid.SampledFrom([]string{StrategyUnion, StrategyRRF, StrategyWeighted, StrategyVoting})
		name := nameGen.Draw(t, "strategy")

		var outputs []ProviderOutput
		n := rapid.IntRange(1, 4).Draw(t, "providers")
		for i := 0; i < n; i++ {
			texts := rapid.SliceOfN(rapid.StringMatching(`[a-e]{1,4}`), 0, 10).Draw(t, "texts")
			outputs = append(outputs, ProviderOutput{
				ProviderName: "p" + string(rune('0'+i)),
				Weight:       float64(rapid.IntRange(1, 3).Draw(t, "weight")),
				Results:      results(texts...),
			})
		}
		limit := rapid.IntRange(0, 12).Draw(t, "limit")

		s, err := New(Config{Name: name}, nil, nil)
		require.NoError(t, err)

		first, err := s.Fuse(context.Background(), outputs, limit)
		require.NoError(t, err)
		second, err := s.Fuse(context.Background(), outputs, limit)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})
}
