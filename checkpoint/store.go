package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/types"
)

const checkpointFile = "checkpoint.json"

// Store owns RunCheckpoint state and its persistence. All mutation happens on
// the in-memory object; Flush persists it, so many mutations coalesce into
// one write. Disk writes are serialized and atomic (write-temp-then-rename).
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	// mu makes checkpoint mutation and snapshotting mutually exclusive:
	// UpdatePhase/UpdateStatus hold it for writing while Flush holds it
	// across the marshal and disk write, so a flush never reads a question
	// sub-tree mid-mutation and flushes never interleave on disk.
	mu sync.RWMutex
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Dir is the state directory; one subdirectory per run id.
	Dir string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewStore creates a checkpoint store rooted at cfg.Dir.
func NewStore(cfg StoreConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		dir:    cfg.Dir,
		logger: logger.With(zap.String("component", "checkpoint")),
		now:    now,
	}
}

// RunDir returns the per-run state directory.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

// ResultsDir returns the per-run search result directory.
func (s *Store) ResultsDir(runID string) string {
	return filepath.Join(s.RunDir(runID), "results")
}

func (s *Store) checkpointPath(runID string) string {
	return filepath.Join(s.RunDir(runID), checkpointFile)
}

// Exists reports whether a checkpoint file exists for the run.
func (s *Store) Exists(runID string) bool {
	_, err := os.Stat(s.checkpointPath(runID))
	return err == nil
}

// Create initializes a new in-memory RunCheckpoint. The caller flushes it
// once questions are materialized.
func (s *Store) Create(runID, provider, benchmark, judge, answeringModel string) *RunCheckpoint {
	now := s.now().UTC()
	return &RunCheckpoint{
		RunID:          runID,
		Status:         RunInitializing,
		Provider:       provider,
		Benchmark:      benchmark,
		Judge:          judge,
		AnsweringModel: answeringModel,
		CreatedAt:      now,
		UpdatedAt:      now,
		Questions:      make(map[string]*QuestionCheckpoint),
	}
}

// Load reads the run's checkpoint from disk. A missing or corrupt file loads
// as RUN_NOT_FOUND; callers must never see partial state.
func (s *Store) Load(runID string) (*RunCheckpoint, error) {
	raw, err := os.ReadFile(s.checkpointPath(runID))
	if err != nil {
		return nil, types.NewErrorf(types.ErrRunNotFound, "run %s not found", runID).WithRunID(runID)
	}
	var cp RunCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		s.logger.Warn("checkpoint file corrupt, treating run as missing",
			zap.String("run_id", runID), zap.Error(err))
		return nil, types.NewErrorf(types.ErrRunNotFound, "run %s checkpoint is corrupt", runID).
			WithRunID(runID).WithCause(err)
	}
	if cp.RunID != runID {
		s.logger.Warn("checkpoint run id mismatch, treating run as missing",
			zap.String("run_id", runID), zap.String("file_run_id", cp.RunID))
		return nil, types.NewErrorf(types.ErrRunNotFound, "run %s checkpoint names run %s", runID, cp.RunID).
			WithRunID(runID)
	}
	return &cp, nil
}

// Flush persists the in-memory checkpoint atomically.
func (s *Store) Flush(cp *RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.UpdatedAt = s.now().UTC()

	dir := s.RunDir(cp.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewError(types.ErrCheckpointIO, "create run directory").
			WithRunID(cp.RunID).WithCause(err)
	}

	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return types.NewError(types.ErrCheckpointIO, "marshal checkpoint").
			WithRunID(cp.RunID).WithCause(err)
	}

	tmp := s.checkpointPath(cp.RunID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return types.NewError(types.ErrCheckpointIO, "write checkpoint").
			WithRunID(cp.RunID).WithCause(err)
	}
	if err := os.Rename(tmp, s.checkpointPath(cp.RunID)); err != nil {
		return types.NewError(types.ErrCheckpointIO, "rename checkpoint").
			WithRunID(cp.RunID).WithCause(err)
	}
	return nil
}

// Delete removes the run's state directory entirely.
func (s *Store) Delete(runID string) error {
	return os.RemoveAll(s.RunDir(runID))
}

// UpdateStatus sets the run-level status.
func (s *Store) UpdateStatus(cp *RunCheckpoint, status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.Status = status
}

// GetPhaseStatus returns the status of one phase of one question. Unknown
// questions and untouched phases read as pending.
func (s *Store) GetPhaseStatus(cp *RunCheckpoint, questionID string, phase Phase) PhaseStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := cp.Questions[questionID]
	if !ok || q.Phases == nil {
		return StatusPending
	}
	pc, ok := q.Phases[phase]
	if !ok {
		return StatusPending
	}
	return pc.Status
}

// PhasePatch is a partial update merged into one phase of one question.
// Nil fields are left untouched; mutation never crosses into other phases.
type PhasePatch struct {
	Status      *PhaseStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	Error       *string

	Ingest      *IngestResult
	ResultFile  *string
	Results     []any
	Hypothesis  *string
	Score       *int
	Label       *string
	Explanation *string
	Retrieval   *RetrievalMetrics
}

// UpdatePhase merges patch into the named phase of the named question.
// Concurrent calls for different questions are safe, and mutation is
// exclusive with Flush so a snapshot never sees a half-applied patch.
func (s *Store) UpdatePhase(cp *RunCheckpoint, questionID string, phase Phase, patch PhasePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := cp.Questions[questionID]
	if !ok {
		s.logger.Warn("update for unknown question ignored",
			zap.String("run_id", cp.RunID), zap.String("question_id", questionID))
		return
	}
	pc := q.PhaseState(phase)

	if patch.Status != nil {
		pc.Status = *patch.Status
	}
	if patch.StartedAt != nil {
		pc.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		pc.CompletedAt = patch.CompletedAt
	}
	if patch.DurationMs != nil {
		pc.DurationMs = *patch.DurationMs
	}
	if patch.Error != nil {
		pc.Error = *patch.Error
	}
	if patch.Ingest != nil {
		pc.Ingest = patch.Ingest
	}
	if patch.ResultFile != nil {
		pc.ResultFile = *patch.ResultFile
	}
	if patch.Results != nil {
		pc.Results = patch.Results
	}
	if patch.Hypothesis != nil {
		pc.Hypothesis = *patch.Hypothesis
	}
	if patch.Score != nil {
		pc.Score = patch.Score
	}
	if patch.Label != nil {
		pc.Label = *patch.Label
	}
	if patch.Explanation != nil {
		pc.Explanation = *patch.Explanation
	}
	if patch.Retrieval != nil {
		pc.Retrieval = patch.Retrieval
	}
}

// Copy clones the source run's checkpoint under a new run id and resets every
// phase at or after fromPhase back to pending for every question. The new run
// keeps the source's data-source lineage so container tags stay stable.
func (s *Store) Copy(sourceRunID, newRunID string, fromPhase Phase) (*RunCheckpoint, error) {
	if Index(fromPhase) < 0 {
		return nil, types.NewErrorf(types.ErrInvalidConfig, "unknown phase %q", fromPhase)
	}
	src, err := s.Load(sourceRunID)
	if err != nil {
		return nil, err
	}
	if s.Exists(newRunID) {
		return nil, types.NewErrorf(types.ErrRunExists, "run %s already exists", newRunID).WithRunID(newRunID)
	}

	// Deep clone through the wire format; the checkpoint must round-trip
	// exactly anyway.
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointIO, "clone checkpoint").WithCause(err)
	}
	var dst RunCheckpoint
	if err := json.Unmarshal(raw, &dst); err != nil {
		return nil, types.NewError(types.ErrCheckpointIO, "clone checkpoint").WithCause(err)
	}

	dst.RunID = newRunID
	dst.DataSourceRunID = src.EffectiveDataSourceRunID()
	dst.Status = RunInitializing
	dst.CreatedAt = s.now().UTC()

	cut := Index(fromPhase)
	for _, q := range dst.Questions {
		for _, p := range Order[cut:] {
			q.Phases[p] = &PhaseCheckpoint{Status: StatusPending}
		}
	}

	if err := s.Flush(&dst); err != nil {
		return nil, err
	}

	s.logger.Info("checkpoint copied",
		zap.String("source_run_id", sourceRunID),
		zap.String("new_run_id", newRunID),
		zap.String("from_phase", string(fromPhase)),
	)
	return &dst, nil
}
