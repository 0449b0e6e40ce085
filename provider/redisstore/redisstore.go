// Package redisstore provides the Redis-backed baseline memory provider.
// Turns are stored as JSON in one hash per container tag; scoring happens
// client-side with the same keyword overlap as the in-process baseline.
// Suitable when several benchmark processes share one memory store.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/provider"
)

// Name is the registry key.
const Name = "redis"

const defaultLimit = 10

// Config configures the Redis provider.
type Config struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// KeyPrefix namespaces all keys. Defaults to "membench:".
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

type document struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Store is the Redis-backed provider.
type Store struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// New creates the provider and verifies connectivity.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "membench:"
	}
	return &Store{
		client:    client,
		keyPrefix: prefix,
		logger:    logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "membench:"
	}
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}
}

// Name returns the registry key.
func (s *Store) Name() string { return Name }

// Initialize verifies the connection.
func (s *Store) Initialize(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ConcurrencyDefaults keeps the fan-out modest; all searches hit one Redis.
func (s *Store) ConcurrencyDefaults() checkpoint.ConcurrencyOverrides {
	return checkpoint.ConcurrencyOverrides{
		Default: 4,
		PerPhase: map[checkpoint.Phase]int{
			checkpoint.PhaseIngest: 2,
		},
	}
}

func (s *Store) tagKey(containerTag string) string {
	return s.keyPrefix + "tag:" + containerTag
}

// Ingest writes one hash field per turn under the container tag's key.
func (s *Store) Ingest(ctx context.Context, sessions []benchmark.Session, opts provider.IngestOptions) (*checkpoint.IngestResult, error) {
	key := s.tagKey(opts.ContainerTag)
	result := &checkpoint.IngestResult{}

	pipe := s.client.Pipeline()
	for _, sess := range sessions {
		for i, turn := range sess.Turns {
			id := fmt.Sprintf("%s/%d", sess.SessionID, i)
			ts := turn.Timestamp
			if ts == "" {
				ts = sess.Date
			}
			raw, err := json.Marshal(document{
				ID:        id,
				SessionID: sess.SessionID,
				Role:      turn.Role,
				Content:   turn.Content,
				Timestamp: ts,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal document %s: %w", id, err)
			}
			pipe.HSet(ctx, key, id, raw)
			result.DocumentIDs = append(result.DocumentIDs, id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ingest into redis: %w", err)
	}

	s.logger.Debug("ingested sessions",
		zap.String("container_tag", opts.ContainerTag),
		zap.Int("documents", len(result.DocumentIDs)),
	)
	return result, nil
}

// AwaitIndexing returns once every ingested document is readable. Redis
// hashes are consistent on write, so this is a single existence check.
func (s *Store) AwaitIndexing(ctx context.Context, result *checkpoint.IngestResult, containerTag string, onProgress provider.ProgressFunc) error {
	if result.Empty() {
		return nil
	}
	n, err := s.client.HLen(ctx, s.tagKey(containerTag)).Result()
	if err != nil {
		return fmt.Errorf("check indexing: %w", err)
	}
	if onProgress != nil {
		onProgress(int(n), len(result.DocumentIDs))
	}
	if int(n) < len(result.DocumentIDs) {
		return fmt.Errorf("container %s holds %d of %d documents", containerTag, n, len(result.DocumentIDs))
	}
	return nil
}

// Search loads the tag's documents and ranks them by keyword overlap.
func (s *Store) Search(ctx context.Context, query string, opts provider.SearchOptions) ([]any, error) {
	fields, err := s.client.HGetAll(ctx, s.tagKey(opts.ContainerTag)).Result()
	if err != nil {
		return nil, fmt.Errorf("search redis: %w", err)
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   document
		score float64
	}
	var hits []scored
	for _, raw := range fields {
		var doc document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			s.logger.Warn("skipping undecodable document", zap.Error(err))
			continue
		}
		terms := tokenize(doc.Content)
		overlap := 0
		for term := range queryTerms {
			if terms[term] {
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
		hits = append(hits, scored{doc: doc, score: score})
	}
	// HGetAll order is unspecified; sort by score then id for determinism.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})

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
			"id":         h.doc.ID,
			"content":    h.doc.Content,
			"score":      h.score,
			"session_id": h.doc.SessionID,
			"role":       h.doc.Role,
			"timestamp":  h.doc.Timestamp,
		})
	}
	return results, nil
}

// Clear deletes the container tag's hash.
func (s *Store) Clear(ctx context.Context, containerTag string) error {
	return s.client.Del(ctx, s.tagKey(containerTag)).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

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
