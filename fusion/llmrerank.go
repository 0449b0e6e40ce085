package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/llm"
)

// snippetMaxLen caps each candidate snippet shown to the rerank model,
// in runes.
const snippetMaxLen = 500

// clipRunes truncates s to at most max runes, never splitting a multi-byte
// sequence.
func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// LLMRerankStrategy dedupes the combined results and asks a language model to
// order the candidates by relevance. Any upstream or parse failure falls back
// to the first limit deduplicated candidates in original order; Fuse never
// returns an error.
type LLMRerankStrategy struct {
	dedup  *Deduplicator
	client llm.Provider
	model  string
	logger *zap.Logger
}

// Name returns the strategy's registry key.
func (s *LLMRerankStrategy) Name() string { return StrategyLLMRerank }

// Fuse reranks the deduplicated candidates with an LLM call. When the list
// already fits the limit the call is skipped entirely.
func (s *LLMRerankStrategy) Fuse(ctx context.Context, outputs []ProviderOutput, limit int) ([]any, error) {
	var combined []any
	for _, po := range outputs {
		combined = append(combined, po.Results...)
	}
	candidates := s.dedup.Dedup(combined)

	if limit <= 0 || len(candidates) <= limit {
		return candidates, nil
	}

	indices, err := s.rerank(ctx, candidates, limit)
	if err != nil {
		s.logger.Warn("rerank failed, keeping original order", zap.Error(err))
		return candidates[:limit], nil
	}

	out := make([]any, 0, limit)
	seen := make(map[int]bool, limit)
	for _, idx := range indices {
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, candidates[idx])
		if len(out) == limit {
			break
		}
	}
	// The model may return fewer valid indices than limit; pad in original order.
	for idx := 0; len(out) < limit && idx < len(candidates); idx++ {
		if !seen[idx] {
			out = append(out, candidates[idx])
		}
	}
	return out, nil
}

func (s *LLMRerankStrategy) rerank(ctx context.Context, candidates []any, limit int) ([]int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Rank the following memory snippets by relevance to the query. "+
		"Return ONLY a JSON array of the %d most relevant snippet numbers, most relevant first.\n\n", limit)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, clipRunes(s.dedup.ExtractContent(c), snippetMaxLen))
	}

	resp, err := s.client.Completion(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a retrieval reranker. Respond with a JSON array of integers and nothing else."},
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in rerank response")
	}
	var indices []int
	if err := json.Unmarshal([]byte(text[start:end+1]), &indices); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	return indices, nil
}
