// Package judge grades answering-model hypotheses against ground truth.
package judge

import (
	"context"
)

// Input carries everything the judge needs to grade one hypothesis.
type Input struct {
	Question     string
	QuestionType string
	GroundTruth  string
	Hypothesis   string
}

// Verdict is the judge's binary grade.
type Verdict struct {
	// Score is 1 for correct, 0 for incorrect.
	Score       int    `json:"score"`
	Label       string `json:"label"`
	Explanation string `json:"explanation"`
}

// Judge grades one hypothesis at a time. Implementations must be safe for
// concurrent use; the evaluate phase calls Evaluate from many workers.
type Judge interface {
	// Evaluate grades the hypothesis. Grading is best-effort: an
	// unparseable model reply yields an incorrect verdict, not an error.
	Evaluate(ctx context.Context, in Input) (*Verdict, error)
	// Model reports the underlying model handle, reused by the retrieval
	// relevance grader.
	Model() string
}
