package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/llm"
)

const (
	// LabelCorrect and LabelIncorrect are the only labels the judge emits.
	LabelCorrect   = "correct"
	LabelIncorrect = "incorrect"
)

// Question-type specific grading guidance. Unknown types use defaultGuidance.
var typeGuidance = map[string]string{
	"single-hop": "The answer is correct if it states the same fact as the ground truth, allowing paraphrase.",
	"multi-hop": "The answer must combine the facts the ground truth combines; a partially assembled chain is incorrect.",
	"temporal": "Dates, ordering and durations must match the ground truth; a wrong date or sequence is incorrect.",
	"open-domain": "Grade on factual agreement with the ground truth; extra correct detail does not make the answer wrong.",
	"adversarial": "If the ground truth says the information is unknown or absent, only an answer that declines or states the absence is correct.",
}

const defaultGuidance = "The answer is correct if it conveys the same information as the ground truth, allowing paraphrase and formatting differences."

// LLMJudge grades hypotheses with a chat model.
type LLMJudge struct {
	client llm.Provider
	model  string
	logger *zap.Logger
}

// NewLLMJudge builds a judge calling model through client. model may be empty
// to use the client's default.
func NewLLMJudge(client llm.Provider, model string, logger *zap.Logger) *LLMJudge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMJudge{
		client: client,
		model:  model,
		logger: logger.With(zap.String("component", "judge"), zap.String("model", model)),
	}
}

// Model reports the configured model handle.
func (j *LLMJudge) Model() string { return j.model }

// Evaluate asks the model for a binary verdict. Transport errors propagate;
// an unparseable reply is graded incorrect with the raw reply as explanation.
func (j *LLMJudge) Evaluate(ctx context.Context, in Input) (*Verdict, error) {
	resp, err := j.client.Completion(ctx, &llm.ChatRequest{
		Model: j.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a strict grader for a memory benchmark. Respond with JSON only."},
			{Role: llm.RoleUser, Content: j.prompt(in)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("judge completion: %w", err)
	}

	verdict, perr := parseVerdict(resp.Text())
	if perr != nil {
		j.logger.Warn("unparseable judge reply, grading incorrect",
			zap.String("question_type", in.QuestionType),
			zap.Error(perr),
		)
		return &Verdict{
			Score:       0,
			Label:       LabelIncorrect,
			Explanation: "unparseable judge reply: " + clip(resp.Text()),
		}, nil
	}
	return verdict, nil
}

func (j *LLMJudge) prompt(in Input) string {
	guidance, ok := typeGuidance[in.QuestionType]
	if !ok {
		guidance = defaultGuidance
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", in.Question)
	fmt.Fprintf(&sb, "Ground truth: %s\n", in.GroundTruth)
	fmt.Fprintf(&sb, "Candidate answer: %s\n\n", in.Hypothesis)
	sb.WriteString(guidance)
	sb.WriteString("\n\nRespond with a JSON object {\"score\": 0 or 1, \"label\": \"correct\" or \"incorrect\", \"explanation\": \"one sentence\"}.")
	return sb.String()
}

// parseVerdict extracts the verdict object from the reply, tolerating prose
// around the JSON.
func parseVerdict(reply string) (*Verdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply %q", clip(reply))
	}

	var v Verdict
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	if v.Score != 0 && v.Score != 1 {
		return nil, fmt.Errorf("verdict score %d outside {0,1}", v.Score)
	}
	if v.Label == "" {
		if v.Score == 1 {
			v.Label = LabelCorrect
		} else {
			v.Label = LabelIncorrect
		}
	}
	return &v, nil
}

// clip bounds a raw reply for inclusion in explanations, truncating on a rune
// boundary so clipped text stays valid UTF-8.
func clip(s string) string {
	if r := []rune(s); len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return s
}
