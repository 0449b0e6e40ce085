// Package memstore provides the in-process baseline memory provider. It keeps
// every ingested turn in memory and scores searches by keyword overlap, so
// the pipeline can run end to end without any external service.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/provider"
)

// Name is the registry key.
const Name = "memstore"

// defaultLimit caps search results when the caller does not.
const defaultLimit = 10

type entry struct {
	id        string
	sessionID string
	role      string
	content   string
	timestamp string
	terms     map[string]bool
}

// Store is the in-memory baseline provider.
type Store struct {
	mu     sync.RWMutex
	byTag  map[string][]*entry
	logger *zap.Logger
}

// New creates an empty in-memory provider.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		byTag:  make(map[string][]*entry),
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}
}

// Name returns the registry key.
func (s *Store) Name() string { return Name }

// Initialize is a no-op for the in-process store.
func (s *Store) Initialize(_ context.Context) error { return nil }

// ConcurrencyDefaults lets the pipeline fan out freely; there is no upstream
// to overload.
func (s *Store) ConcurrencyDefaults() checkpoint.ConcurrencyOverrides {
	return checkpoint.ConcurrencyOverrides{Default: 8}
}

// Ingest stores one document per turn under the container tag.
func (s *Store) Ingest(_ context.Context, sessions []benchmark.Session, opts provider.IngestOptions) (*checkpoint.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &checkpoint.IngestResult{}
	for _, sess := range sessions {
		for i, turn := range sess.Turns {
			id := fmt.Sprintf("%s/%s/%d", opts.ContainerTag, sess.SessionID, i)
			ts := turn.Timestamp
			if ts == "" {
				ts = sess.Date
			}
			s.byTag[opts.ContainerTag] = append(s.byTag[opts.ContainerTag], &entry{
				id:        id,
				sessionID: sess.SessionID,
				role:      turn.Role,
				content:   turn.Content,
				timestamp: ts,
				terms:     tokenize(turn.Content),
			})
			result.DocumentIDs = append(result.DocumentIDs, id)
		}
	}

	s.logger.Debug("ingested sessions",
		zap.String("container_tag", opts.ContainerTag),
		zap.Int("documents", len(result.DocumentIDs)),
	)
	return result, nil
}

// AwaitIndexing returns immediately; in-memory documents are searchable as
// soon as Ingest returns.
func (s *Store) AwaitIndexing(_ context.Context, result *checkpoint.IngestResult, _ string, onProgress provider.ProgressFunc) error {
	if onProgress != nil && result != nil {
		n := len(result.DocumentIDs)
		onProgress(n, n)
	}
	return nil
}

// Search ranks stored turns by keyword overlap with the query.
func (s *Store) Search(_ context.Context, query string, opts provider.SearchOptions) ([]any, error) {
	s.mu.RLock()
	entries := s.byTag[opts.ContainerTag]
	s.mu.RUnlock()

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	type scored struct {
		e     *entry
		score float64
	}
	var hits []scored
	for _, e := range entries {
		overlap := 0
		for term := range queryTerms {
			if e.terms[term] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		score := float64(overlap) / float64(len(queryTerms))
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		hits = append(hits, scored{e: e, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"id":         h.e.id,
			"content":    h.e.content,
			"score":      h.score,
			"session_id": h.e.sessionID,
			"role":       h.e.role,
			"timestamp":  h.e.timestamp,
		})
	}
	return results, nil
}

// Clear deletes everything under the container tag.
func (s *Store) Clear(_ context.Context, containerTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTag, containerTag)
	return nil
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(f) > 1 {
			terms[f] = true
		}
	}
	return terms
}
