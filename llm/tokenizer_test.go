package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// wordCounter counts whitespace-separated words, standing in for a real
// encoding so budget tests stay deterministic and offline.
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func TestTruncateToBudget(t *testing.T) {
	t.Parallel()

	snippets := []string{
		"Ana moved to Lisbon",   // 4 tokens
		"Ben studied biology",   // 3 tokens
		"Cara plays the violin", // 4 tokens
	}

	tests := []struct {
		name   string
		budget int
		want   []string
	}{
		{name: "zero budget disables truncation", budget: 0, want: snippets},
		{name: "everything fits", budget: 11, want: snippets},
		{name: "tail dropped", budget: 7, want: snippets[:2]},
		{name: "only first fits", budget: 4, want: snippets[:1]},
		{name: "first kept even over budget", budget: 2, want: snippets[:1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TruncateToBudget(wordCounter{}, snippets, tt.budget))
		})
	}
}

func TestTruncateToBudget_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, TruncateToBudget(wordCounter{}, nil, 100))
}

func TestTiktokenTokenizer_CharacterFallback(t *testing.T) {
	t.Parallel()

	tok := &TiktokenTokenizer{} // no encoding resolved
	assert.Equal(t, 5, tok.CountTokens("Ana moved to Lisbon."))
	assert.Zero(t, tok.CountTokens(""))
}

func TestJoinContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a\nb\nc", JoinContext([]string{"a", "b", "c"}))
	assert.Equal(t, "", JoinContext(nil))
}
