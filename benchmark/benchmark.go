// Package benchmark defines question/answer datasets for memory evaluation.
// A benchmark supplies questions, their ground truth, and the haystack
// conversation sessions a provider must ingest before the question is asked.
package benchmark

import "context"

// Turn is one utterance inside a haystack session.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Session is a conversation transcript ingested as background memory.
type Session struct {
	SessionID string `json:"session_id"`
	Date      string `json:"date,omitempty"`
	Turns     []Turn `json:"turns"`
}

// Question is one benchmark item.
type Question struct {
	QuestionID         string   `json:"question_id"`
	Question           string   `json:"question"`
	QuestionType       string   `json:"question_type"`
	GroundTruth        string   `json:"ground_truth"`
	QuestionDate       string   `json:"question_date,omitempty"`
	HaystackSessionIDs []string `json:"haystack_session_ids"`
}

// Filter narrows the question set returned by GetQuestions.
type Filter struct {
	// QuestionIDs restricts to the named questions; empty means all.
	QuestionIDs []string
	// QuestionTypes restricts to the named categories; empty means all.
	QuestionTypes []string
}

// Benchmark is a loadable QA dataset.
type Benchmark interface {
	// Name returns the benchmark's registry key.
	Name() string

	// Load reads the dataset into memory. It must be called before any getter.
	Load(ctx context.Context) error

	// GetQuestions returns the (optionally filtered) questions in dataset order.
	GetQuestions(filter *Filter) []Question

	// GetHaystackSessions returns the sessions behind one question.
	GetHaystackSessions(questionID string) ([]Session, error)

	// GetGroundTruth returns the expected answer for one question.
	GetGroundTruth(questionID string) (string, error)

	// GetQuestionTypes returns the category registry in stable order.
	GetQuestionTypes() []string
}
