package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/fusion"
	"github.com/BaSui01/membench/llm"
)

// snippetLimit caps each graded snippet, in runes.
const snippetLimit = 500

// Evaluator grades up to k search results against the ground truth with a
// single LLM call and derives retrieval metrics from the binary labels.
type Evaluator struct {
	client llm.Provider
	model  string
	dedup  *fusion.Deduplicator
	logger *zap.Logger
}

// NewEvaluator builds a relevance grader on the given client. model may be
// empty to use the client's default.
func NewEvaluator(client llm.Provider, model string, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		client: client,
		model:  model,
		dedup:  fusion.NewDeduplicator(),
		logger: logger.With(zap.String("component", "retrieval_evaluator")),
	}
}

// Evaluate labels each result relevant or not against the ground truth and
// returns the folded metrics. Grading is best-effort: any LLM or parse
// failure labels every result not-relevant and continues, it never errors.
func (e *Evaluator) Evaluate(ctx context.Context, question, groundTruth string, results []any) *checkpoint.RetrievalMetrics {
	if len(results) == 0 {
		return &checkpoint.RetrievalMetrics{}
	}

	relevance, err := e.grade(ctx, question, groundTruth, results)
	if err != nil {
		e.logger.Warn("relevance grading failed, labeling all results not relevant", zap.Error(err))
		relevance = make([]bool, len(results))
	}
	return MetricsFromRelevance(relevance)
}

func (e *Evaluator) grade(ctx context.Context, question, groundTruth string, results []any) ([]bool, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", question)
	fmt.Fprintf(&sb, "Correct answer: %s\n\n", groundTruth)
	sb.WriteString("Retrieved memories:\n")
	for i, r := range results {
		snippet := e.dedup.ExtractContent(r)
		// Truncate on a rune boundary so a clipped snippet stays valid UTF-8.
		if runes := []rune(snippet); len(runes) > snippetLimit {
			snippet = string(runes[:snippetLimit])
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i, snippet)
	}
	fmt.Fprintf(&sb, "\nFor each memory, decide whether it contains information relevant to answering the question correctly. Respond with ONLY a JSON array of %d integers, one per memory in order, 1 for relevant and 0 for not relevant.", len(results))

	resp, err := e.client.Completion(ctx, &llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You grade search results for relevance. Answer with JSON only."},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	labels, err := parseLabels(resp.Text(), len(results))
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// parseLabels extracts the first JSON array of 0/1 integers from the reply.
// Missing trailing labels read as not relevant; extra labels are dropped.
func parseLabels(reply string, n int) ([]bool, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in reply %q", truncateReply(reply))
	}

	var raw []int
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse relevance labels: %w", err)
	}

	labels := make([]bool, n)
	for i, v := range raw {
		if i >= n {
			break
		}
		labels[i] = v == 1
	}
	return labels, nil
}

func truncateReply(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
