package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/fusion"
	"github.com/BaSui01/membench/judge"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/provider"
)

// SearchResultFile is the canonical per-question search record, consumed by
// the answer phase and kept next to the checkpoint for inspection.
type SearchResultFile struct {
	QuestionID   string    `json:"question_id"`
	Question     string    `json:"question"`
	QuestionType string    `json:"question_type,omitempty"`
	GroundTruth  string    `json:"ground_truth"`
	ContainerTag string    `json:"container_tag"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`
	Results      []any     `json:"results"`
}

func ingestExec(deps *Deps) execFunc {
	return func(ctx context.Context, cp *checkpoint.RunCheckpoint, q *checkpoint.QuestionCheckpoint) (checkpoint.PhasePatch, error) {
		sessions, err := deps.Benchmark.GetHaystackSessions(q.QuestionID)
		if err != nil {
			return checkpoint.PhasePatch{}, fmt.Errorf("load haystack sessions: %w", err)
		}
		result, err := deps.Provider.Ingest(ctx, sessions, provider.IngestOptions{
			ContainerTag: q.ContainerTag,
			Metadata: map[string]string{
				"run_id":      cp.RunID,
				"question_id": q.QuestionID,
			},
		})
		if err != nil {
			return checkpoint.PhasePatch{}, err
		}
		return checkpoint.PhasePatch{Ingest: result}, nil
	}
}

func indexingExec(deps *Deps) execFunc {
	return func(ctx context.Context, _ *checkpoint.RunCheckpoint, q *checkpoint.QuestionCheckpoint) (checkpoint.PhasePatch, error) {
		result := q.PhaseState(checkpoint.PhaseIngest).Ingest
		// Nothing was stored asynchronously, nothing to wait for.
		if result.Empty() {
			return checkpoint.PhasePatch{}, nil
		}
		onProgress := func(completed, total int) {
			deps.Logger.Debug("indexing progress",
				zap.String("question_id", q.QuestionID),
				zap.Int("completed", completed),
				zap.Int("total", total),
			)
		}
		if err := deps.Provider.AwaitIndexing(ctx, result, q.ContainerTag, onProgress); err != nil {
			return checkpoint.PhasePatch{}, err
		}
		return checkpoint.PhasePatch{}, nil
	}
}

func searchExec(deps *Deps) execFunc {
	return func(ctx context.Context, cp *checkpoint.RunCheckpoint, q *checkpoint.QuestionCheckpoint) (checkpoint.PhasePatch, error) {
		start := deps.clock()
		results, err := deps.Provider.Search(ctx, q.Question, provider.SearchOptions{
			ContainerTag: q.ContainerTag,
			Limit:        deps.SearchLimit,
		})
		if err != nil {
			return checkpoint.PhasePatch{}, err
		}
		if results == nil {
			results = []any{}
		}

		record := SearchResultFile{
			QuestionID:   q.QuestionID,
			Question:     q.Question,
			QuestionType: q.QuestionType,
			GroundTruth:  q.GroundTruth,
			ContainerTag: q.ContainerTag,
			Timestamp:    start.UTC(),
			DurationMs:   deps.clock().Sub(start).Milliseconds(),
			Results:      results,
		}
		// The path is stored absolute so runs derived via checkpoint copy
		// keep reading the source run's results.
		path, err := writeSearchResultFile(deps.Store.ResultsDir(cp.RunID), &record)
		if err != nil {
			return checkpoint.PhasePatch{}, err
		}
		return checkpoint.PhasePatch{ResultFile: &path, Results: results}, nil
	}
}

func writeSearchResultFile(dir string, record *SearchResultFile) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal search results: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, record.QuestionID+".json"))
	if err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", fmt.Errorf("write search results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename search results: %w", err)
	}
	return path, nil
}

func answerExec(deps *Deps) execFunc {
	dedup := fusion.NewDeduplicator()
	return func(ctx context.Context, _ *checkpoint.RunCheckpoint, q *checkpoint.QuestionCheckpoint) (checkpoint.PhasePatch, error) {
		results, err := loadSearchResults(q)
		if err != nil {
			return checkpoint.PhasePatch{}, err
		}

		snippets := make([]string, 0, len(results))
		for _, r := range results {
			snippets = append(snippets, dedup.ExtractContent(r))
		}
		if deps.TokenBudget > 0 && deps.Tokenizer != nil {
			snippets = llm.TruncateToBudget(deps.Tokenizer, snippets, deps.TokenBudget)
		}

		resp, err := deps.Answering.Completion(ctx, &llm.ChatRequest{
			Model: deps.AnswerModel,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "You answer questions using only the provided memories. If the memories do not contain the answer, say so."},
				{Role: llm.RoleUser, Content: answerPrompt(q, snippets)},
			},
		})
		if err != nil {
			return checkpoint.PhasePatch{}, err
		}
		if deps.Metrics != nil {
			deps.Metrics.ObserveLLMRequest("answer", "ok", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		hypothesis := strings.TrimSpace(resp.Text())
		return checkpoint.PhasePatch{Hypothesis: &hypothesis}, nil
	}
}

// loadSearchResults reads the search phase's result file, falling back to the
// inline copy on the checkpoint when the file is gone.
func loadSearchResults(q *checkpoint.QuestionCheckpoint) ([]any, error) {
	search := q.PhaseState(checkpoint.PhaseSearch)
	if search.ResultFile != "" {
		raw, err := os.ReadFile(search.ResultFile)
		if err == nil {
			var record SearchResultFile
			if jerr := json.Unmarshal(raw, &record); jerr != nil {
				return nil, fmt.Errorf("parse search result file %s: %w", search.ResultFile, jerr)
			}
			return record.Results, nil
		}
	}
	if search.Results != nil {
		return search.Results, nil
	}
	return nil, fmt.Errorf("question %s has no search results", q.QuestionID)
}

func answerPrompt(q *checkpoint.QuestionCheckpoint, snippets []string) string {
	var sb strings.Builder
	sb.WriteString("Memories:\n")
	if len(snippets) == 0 {
		sb.WriteString("(none retrieved)\n")
	}
	for i, s := range snippets {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, s)
	}
	if q.QuestionDate != "" {
		fmt.Fprintf(&sb, "\nToday's date: %s\n", q.QuestionDate)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", q.Question)
	return sb.String()
}

func evaluateExec(deps *Deps) execFunc {
	return func(ctx context.Context, _ *checkpoint.RunCheckpoint, q *checkpoint.QuestionCheckpoint) (checkpoint.PhasePatch, error) {
		hypothesis := q.PhaseState(checkpoint.PhaseAnswer).Hypothesis
		results, err := loadSearchResults(q)
		if err != nil {
			return checkpoint.PhasePatch{}, err
		}

		var (
			verdict *judge.Verdict
			metrics *checkpoint.RetrievalMetrics
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			v, jerr := deps.Judge.Evaluate(gctx, judge.Input{
				Question:     q.Question,
				QuestionType: q.QuestionType,
				GroundTruth:  q.GroundTruth,
				Hypothesis:   hypothesis,
			})
			verdict = v
			return jerr
		})
		g.Go(func() error {
			metrics = deps.Grader.Evaluate(gctx, q.Question, q.GroundTruth, results)
			return nil
		})
		if err := g.Wait(); err != nil {
			return checkpoint.PhasePatch{}, err
		}

		return checkpoint.PhasePatch{
			Score:       &verdict.Score,
			Label:       &verdict.Label,
			Explanation: &verdict.Explanation,
			Retrieval:   metrics,
		}, nil
	}
}

// runnerFor builds the phase runner for one pipeline stage.
func runnerFor(phase checkpoint.Phase, deps *Deps) *phaseRunner {
	var exec execFunc
	switch phase {
	case checkpoint.PhaseIngest:
		exec = ingestExec(deps)
	case checkpoint.PhaseIndexing:
		exec = indexingExec(deps)
	case checkpoint.PhaseSearch:
		exec = searchExec(deps)
	case checkpoint.PhaseAnswer:
		exec = answerExec(deps)
	default:
		exec = evaluateExec(deps)
	}
	return newPhaseRunner(phase, deps, exec)
}
