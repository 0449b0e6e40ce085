package llm

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer counts tokens for prompt budgeting.
type Tokenizer interface {
	CountTokens(text string) int
}

// TiktokenTokenizer counts tokens with tiktoken. When the encoding cannot be
// resolved it falls back to a len/4 estimate and logs once.
type TiktokenTokenizer struct {
	enc    *tiktoken.Tiktoken
	logger *zap.Logger
}

// NewTiktokenTokenizer creates a tokenizer for the given model
// (e.g. "gpt-4o"). Unknown models fall back to the cl100k_base encoding.
func NewTiktokenTokenizer(model string, logger *zap.Logger) *TiktokenTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Warn("tiktoken unavailable, using character estimate", zap.Error(err))
		enc = nil
	}
	return &TiktokenTokenizer{enc: enc, logger: logger}
}

// CountTokens returns the token count for text.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if t.enc == nil {
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// TruncateToBudget keeps whole snippets, in order, until the token budget is
// exhausted. The first snippet is always kept even if it alone exceeds the
// budget, so the answer prompt never loses its top-ranked context entirely.
func TruncateToBudget(tok Tokenizer, snippets []string, budget int) []string {
	if budget <= 0 || len(snippets) == 0 {
		return snippets
	}
	kept := make([]string, 0, len(snippets))
	used := 0
	for i, s := range snippets {
		n := tok.CountTokens(s)
		if i > 0 && used+n > budget {
			break
		}
		kept = append(kept, s)
		used += n
	}
	return kept
}

// JoinContext renders snippets as a numbered context block.
func JoinContext(snippets []string) string {
	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
	}
	return b.String()
}
