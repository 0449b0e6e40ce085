package mocks

import (
	"context"
	"fmt"

	"github.com/BaSui01/membench/benchmark"
)

// FixtureBenchmark is an in-memory benchmark.Benchmark for tests.
type FixtureBenchmark struct {
	// BenchName defaults to "fixture".
	BenchName string
	Questions []benchmark.Question
	// Sessions maps session id to transcript.
	Sessions map[string]benchmark.Session
	// LoadErr, when set, is returned by Load.
	LoadErr error

	loaded bool
}

// NewFixtureBenchmark builds a two-question fixture with one haystack
// session per question.
func NewFixtureBenchmark() *FixtureBenchmark {
	return &FixtureBenchmark{
		Questions: []benchmark.Question{
			{
				QuestionID:         "q1",
				Question:           "Where does Ana live?",
				QuestionType:       "single-hop",
				GroundTruth:        "Lisbon",
				HaystackSessionIDs: []string{"s1"},
			},
			{
				QuestionID:         "q2",
				Question:           "What did Ben study?",
				QuestionType:       "single-hop",
				GroundTruth:        "Biology",
				HaystackSessionIDs: []string{"s2"},
			},
		},
		Sessions: map[string]benchmark.Session{
			"s1": {SessionID: "s1", Turns: []benchmark.Turn{
				{Role: "user", Content: "Ana moved to Lisbon last spring."},
			}},
			"s2": {SessionID: "s2", Turns: []benchmark.Turn{
				{Role: "user", Content: "Ben finished his biology degree."},
			}},
		},
	}
}

// Name returns the benchmark name.
func (b *FixtureBenchmark) Name() string {
	if b.BenchName == "" {
		return "fixture"
	}
	return b.BenchName
}

// Load marks the fixture loaded.
func (b *FixtureBenchmark) Load(context.Context) error {
	if b.LoadErr != nil {
		return b.LoadErr
	}
	b.loaded = true
	return nil
}

// GetQuestions returns the fixture questions, optionally filtered.
func (b *FixtureBenchmark) GetQuestions(filter *benchmark.Filter) []benchmark.Question {
	if filter == nil {
		return b.Questions
	}
	ids := make(map[string]bool, len(filter.QuestionIDs))
	for _, id := range filter.QuestionIDs {
		ids[id] = true
	}
	kinds := make(map[string]bool, len(filter.QuestionTypes))
	for _, t := range filter.QuestionTypes {
		kinds[t] = true
	}
	var out []benchmark.Question
	for _, q := range b.Questions {
		if len(ids) > 0 && !ids[q.QuestionID] {
			continue
		}
		if len(kinds) > 0 && !kinds[q.QuestionType] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// GetHaystackSessions returns the sessions behind one question.
func (b *FixtureBenchmark) GetHaystackSessions(questionID string) ([]benchmark.Session, error) {
	for _, q := range b.Questions {
		if q.QuestionID != questionID {
			continue
		}
		out := make([]benchmark.Session, 0, len(q.HaystackSessionIDs))
		for _, sid := range q.HaystackSessionIDs {
			s, ok := b.Sessions[sid]
			if !ok {
				return nil, fmt.Errorf("unknown session %q", sid)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown question %q", questionID)
}

// GetGroundTruth returns the expected answer for one question.
func (b *FixtureBenchmark) GetGroundTruth(questionID string) (string, error) {
	for _, q := range b.Questions {
		if q.QuestionID == questionID {
			return q.GroundTruth, nil
		}
	}
	return "", fmt.Errorf("unknown question %q", questionID)
}

// GetQuestionTypes returns the categories in first-seen order.
func (b *FixtureBenchmark) GetQuestionTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range b.Questions {
		if !seen[q.QuestionType] {
			seen[q.QuestionType] = true
			out = append(out, q.QuestionType)
		}
	}
	return out
}
