package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/types"
)

// JSONFileBenchmark loads a dataset from a single JSON document of the form
//
//	{
//	  "questions": [...],
//	  "sessions":  {"<session_id>": {...}, ...}
//	}
//
// This is the on-disk shape the longmemeval-style exports use.
type JSONFileBenchmark struct {
	name string
	path string

	mu        sync.RWMutex
	loaded    bool
	questions []Question
	byID      map[string]Question
	sessions  map[string]Session

	logger *zap.Logger
}

type jsonDataset struct {
	Questions []Question         `json:"questions"`
	Sessions  map[string]Session `json:"sessions"`
}

// NewJSONFileBenchmark creates a benchmark backed by the given dataset file.
func NewJSONFileBenchmark(name, path string, logger *zap.Logger) *JSONFileBenchmark {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONFileBenchmark{
		name:   name,
		path:   path,
		logger: logger.With(zap.String("component", "benchmark"), zap.String("benchmark", name)),
	}
}

// Name returns the benchmark's registry key.
func (b *JSONFileBenchmark) Name() string { return b.name }

// Load reads and validates the dataset file.
func (b *JSONFileBenchmark) Load(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		return types.NewErrorf(types.ErrInvalidConfig, "read benchmark dataset %s", b.path).WithCause(err)
	}
	var ds jsonDataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return types.NewErrorf(types.ErrInvalidConfig, "parse benchmark dataset %s", b.path).WithCause(err)
	}
	if len(ds.Questions) == 0 {
		return types.NewErrorf(types.ErrInvalidConfig, "benchmark dataset %s has no questions", b.path)
	}

	byID := make(map[string]Question, len(ds.Questions))
	for _, q := range ds.Questions {
		if q.QuestionID == "" {
			return types.NewErrorf(types.ErrInvalidConfig, "benchmark dataset %s: question with empty id", b.path)
		}
		if _, dup := byID[q.QuestionID]; dup {
			return types.NewErrorf(types.ErrInvalidConfig, "benchmark dataset %s: duplicate question id %s", b.path, q.QuestionID)
		}
		for _, sid := range q.HaystackSessionIDs {
			if _, ok := ds.Sessions[sid]; !ok {
				return types.NewErrorf(types.ErrInvalidConfig,
					"benchmark dataset %s: question %s references unknown session %s", b.path, q.QuestionID, sid)
			}
		}
		byID[q.QuestionID] = q
	}

	b.questions = ds.Questions
	b.byID = byID
	b.sessions = ds.Sessions
	b.loaded = true

	b.logger.Info("benchmark loaded",
		zap.Int("questions", len(ds.Questions)),
		zap.Int("sessions", len(ds.Sessions)),
	)
	return nil
}

// GetQuestions returns the filtered questions in dataset order.
func (b *JSONFileBenchmark) GetQuestions(filter *Filter) []Question {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if filter == nil {
		return append([]Question(nil), b.questions...)
	}

	wantID := make(map[string]bool, len(filter.QuestionIDs))
	for _, id := range filter.QuestionIDs {
		wantID[id] = true
	}
	wantType := make(map[string]bool, len(filter.QuestionTypes))
	for _, qt := range filter.QuestionTypes {
		wantType[qt] = true
	}

	var out []Question
	for _, q := range b.questions {
		if len(wantID) > 0 && !wantID[q.QuestionID] {
			continue
		}
		if len(wantType) > 0 && !wantType[q.QuestionType] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// GetHaystackSessions returns the sessions behind one question.
func (b *JSONFileBenchmark) GetHaystackSessions(questionID string) ([]Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.byID[questionID]
	if !ok {
		return nil, fmt.Errorf("unknown question %s", questionID)
	}
	sessions := make([]Session, 0, len(q.HaystackSessionIDs))
	for _, sid := range q.HaystackSessionIDs {
		s, ok := b.sessions[sid]
		if !ok {
			return nil, fmt.Errorf("question %s references unknown session %s", questionID, sid)
		}
		s.SessionID = sid
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// GetGroundTruth returns the expected answer for one question.
func (b *JSONFileBenchmark) GetGroundTruth(questionID string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.byID[questionID]
	if !ok {
		return "", fmt.Errorf("unknown question %s", questionID)
	}
	return q.GroundTruth, nil
}

// GetQuestionTypes returns the distinct question categories, sorted.
func (b *JSONFileBenchmark) GetQuestionTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, q := range b.questions {
		if q.QuestionType != "" && !seen[q.QuestionType] {
			seen[q.QuestionType] = true
			out = append(out, q.QuestionType)
		}
	}
	sort.Strings(out)
	return out
}
