// Package checkpoint owns the persisted per-run, per-question, per-phase
// progress record that makes benchmark runs resumable. The in-memory
// RunCheckpoint is mutated by phase runners and flushed to disk as one JSON
// document per run.
package checkpoint

import (
	"sort"
	"time"
)

// Phase identifies one stage of the fixed pipeline.
type Phase string

const (
	PhaseIngest   Phase = "ingest"
	PhaseIndexing Phase = "indexing"
	PhaseSearch   Phase = "search"
	PhaseAnswer   Phase = "answer"
	PhaseEvaluate Phase = "evaluate"
)

// Order is the fixed phase order. A phase may run only once every earlier
// phase is completed for that question.
var Order = []Phase{PhaseIngest, PhaseIndexing, PhaseSearch, PhaseAnswer, PhaseEvaluate}

// Index returns the position of p in the fixed order, or -1 if unknown.
func Index(p Phase) int {
	for i, o := range Order {
		if o == p {
			return i
		}
	}
	return -1
}

// Prior returns the phase immediately before p, or false for the first phase.
func Prior(p Phase) (Phase, bool) {
	i := Index(p)
	if i <= 0 {
		return "", false
	}
	return Order[i-1], true
}

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

const (
	RunInitializing RunStatus = "initializing"
	RunRunning      RunStatus = "running"
	RunCompleted    RunStatus = "completed"
	RunFailed       RunStatus = "failed"
)

// PhaseStatus is the lifecycle state of one phase of one question.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
)

// IngestResult is the ingest phase payload.
type IngestResult struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	TaskIDs     []string `json:"task_ids,omitempty"`
}

// Empty reports whether ingest produced nothing to wait for.
func (r *IngestResult) Empty() bool {
	return r == nil || (len(r.DocumentIDs) == 0 && len(r.TaskIDs) == 0)
}

// RetrievalMetrics holds per-question IR quality metrics, immutable once
// computed by the evaluate phase.
type RetrievalMetrics struct {
	HitAtK            float64 `json:"hit_at_k"`
	PrecisionAtK      float64 `json:"precision_at_k"`
	RecallAtK         float64 `json:"recall_at_k"`
	F1AtK             float64 `json:"f1_at_k"`
	MRR               float64 `json:"mrr"`
	NDCG              float64 `json:"ndcg"`
	K                 int     `json:"k"`
	RelevantRetrieved int     `json:"relevant_retrieved"`
	TotalRelevant     int     `json:"total_relevant"`
}

// PhaseCheckpoint records one phase's progress and payload for one question.
// Payload fields are populated per phase: ingest fills Ingest, search fills
// ResultFile/Results, answer fills Hypothesis, evaluate fills Score/Label/
// Explanation/Retrieval.
type PhaseCheckpoint struct {
	Status      PhaseStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	DurationMs  int64       `json:"duration_ms,omitempty"`
	Error       string      `json:"error,omitempty"`

	Ingest      *IngestResult     `json:"ingest,omitempty"`
	ResultFile  string            `json:"result_file,omitempty"`
	Results     []any             `json:"results,omitempty"`
	Hypothesis  string            `json:"hypothesis,omitempty"`
	Score       *int              `json:"score,omitempty"`
	Label       string            `json:"label,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	Retrieval   *RetrievalMetrics `json:"retrieval_metrics,omitempty"`
}

// QuestionCheckpoint is one question's progress within a run.
type QuestionCheckpoint struct {
	QuestionID   string `json:"question_id"`
	ContainerTag string `json:"container_tag"`
	Question     string `json:"question"`
	GroundTruth  string `json:"ground_truth"`
	QuestionType string `json:"question_type,omitempty"`
	QuestionDate string `json:"question_date,omitempty"`

	Phases map[Phase]*PhaseCheckpoint `json:"phases"`
}

// PhaseState returns the named phase, creating a pending one on first use.
func (q *QuestionCheckpoint) PhaseState(p Phase) *PhaseCheckpoint {
	if q.Phases == nil {
		q.Phases = make(map[Phase]*PhaseCheckpoint, len(Order))
	}
	pc, ok := q.Phases[p]
	if !ok {
		pc = &PhaseCheckpoint{Status: StatusPending}
		q.Phases[p] = pc
	}
	return pc
}

// SamplingConfig is the question selection policy recorded on the run.
type SamplingConfig struct {
	// Mode is "all", "limit" (first N), or "sample" (N per category).
	Mode string `json:"mode,omitempty"`
	// Limit is N for mode "limit".
	Limit int `json:"limit,omitempty"`
	// PerCategory is N for mode "sample".
	PerCategory int `json:"per_category,omitempty"`
	// Random selects randomly within a category instead of consecutively.
	Random bool `json:"random,omitempty"`
	// Seed makes random sampling reproducible.
	Seed int64 `json:"seed,omitempty"`
}

// ConcurrencyOverrides are the CLI-level concurrency settings recorded on the
// run. Zero values mean "not set".
type ConcurrencyOverrides struct {
	// Default applies to every phase without a per-phase override.
	Default int `json:"default,omitempty"`
	// PerPhase overrides the default for specific phases.
	PerPhase map[Phase]int `json:"per_phase,omitempty"`
}

// RunCheckpoint is the full progress record of one benchmark run. It is owned
// exclusively by the Store for the run's lifetime.
type RunCheckpoint struct {
	RunID           string    `json:"run_id"`
	DataSourceRunID string    `json:"data_source_run_id,omitempty"`
	Status          RunStatus `json:"status"`
	Provider        string    `json:"provider"`
	Benchmark       string    `json:"benchmark"`
	Judge           string    `json:"judge"`
	AnsweringModel  string    `json:"answering_model"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Sampling    SamplingConfig       `json:"sampling,omitempty"`
	Concurrency ConcurrencyOverrides `json:"concurrency,omitempty"`

	Questions map[string]*QuestionCheckpoint `json:"questions"`
}

// EffectiveDataSourceRunID returns the run whose ingested data this run
// reads: its own id unless derived from another run.
func (c *RunCheckpoint) EffectiveDataSourceRunID() string {
	if c.DataSourceRunID != "" {
		return c.DataSourceRunID
	}
	return c.RunID
}

// QuestionIDs returns all question ids in the checkpoint, sorted.
func (c *RunCheckpoint) QuestionIDs() []string {
	ids := make([]string, 0, len(c.Questions))
	for id := range c.Questions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
