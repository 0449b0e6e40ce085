// Package leaderboard persists completed run summaries to a local SQLite
// database so results accumulate across benchmark sessions.
package leaderboard

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/report"
)

// Entry is one run's row on the leaderboard. A (provider, benchmark, judge)
// triple holds a single row, overwritten by later runs.
type Entry struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	Provider  string `gorm:"uniqueIndex:idx_board,priority:1" json:"provider"`
	Benchmark string `gorm:"uniqueIndex:idx_board,priority:2" json:"benchmark"`
	Judge     string `gorm:"uniqueIndex:idx_board,priority:3" json:"judge"`

	RunID          string  `json:"run_id"`
	AnsweringModel string  `json:"answering_model"`
	Questions      int     `json:"questions"`
	Evaluated      int     `json:"evaluated"`
	Accuracy       float64 `json:"accuracy"`
	MeanHitAtK     float64 `json:"mean_hit_at_k"`
	MeanNDCG       float64 `json:"mean_ndcg"`
	SearchP95Ms    int64   `json:"search_p95_ms"`

	RecordedAt time.Time `json:"recorded_at"`
}

// Store is the SQLite-backed leaderboard.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open creates or opens the leaderboard database at path and migrates the
// schema. ":memory:" opens an in-process database, for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open leaderboard db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate leaderboard schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "leaderboard")),
		now:    time.Now,
	}, nil
}

// Record upserts the summary onto the board.
func (s *Store) Record(summary *report.Summary) error {
	entry := Entry{
		Provider:       summary.Provider,
		Benchmark:      summary.Benchmark,
		Judge:          summary.Judge,
		RunID:          summary.RunID,
		AnsweringModel: summary.AnsweringModel,
		Questions:      summary.Questions,
		Evaluated:      summary.Evaluated,
		Accuracy:       summary.Accuracy,
		MeanHitAtK:     summary.Retrieval.MeanHitAtK,
		MeanNDCG:       summary.Retrieval.MeanNDCG,
		SearchP95Ms:    summary.Latency[checkpoint.PhaseSearch].P95Ms,
		RecordedAt:     s.now().UTC(),
	}

	var existing Entry
	err := s.db.Where("provider = ? AND benchmark = ? AND judge = ?",
		entry.Provider, entry.Benchmark, entry.Judge).First(&existing).Error
	switch {
	case err == nil:
		entry.ID = existing.ID
		if err := s.db.Save(&entry).Error; err != nil {
			return fmt.Errorf("update leaderboard entry: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(&entry).Error; err != nil {
			return fmt.Errorf("create leaderboard entry: %w", err)
		}
	default:
		return fmt.Errorf("query leaderboard: %w", err)
	}

	s.logger.Info("leaderboard updated",
		zap.String("provider", entry.Provider),
		zap.String("benchmark", entry.Benchmark),
		zap.Float64("accuracy", entry.Accuracy),
	)
	return nil
}

// List returns the board for one benchmark (or all benchmarks when empty),
// best accuracy first.
func (s *Store) List(benchmark string) ([]Entry, error) {
	q := s.db.Order("accuracy DESC, mean_ndcg DESC")
	if benchmark != "" {
		q = q.Where("benchmark = ?", benchmark)
	}
	var entries []Entry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	return entries, nil
}
