package ensemble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/fusion"
	"github.com/BaSui01/membench/internal/telemetry"
	"github.com/BaSui01/membench/llm"
	"github.com/BaSui01/membench/provider"
)

type member struct {
	provider provider.Provider
	weight   float64
}

// Ensemble fans out to its members and fuses their search results.
type Ensemble struct {
	members  []member
	strategy fusion.Strategy
	logger   *zap.Logger
}

// New builds the ensemble from config. Sub-providers are constructed through
// the registry; the llm client is needed only for the llm-rerank strategy.
func New(cfg *Config, reg *provider.Registry, client llm.Provider, logger *zap.Logger) (*Ensemble, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategy, err := fusion.New(cfg.Strategy, client, logger)
	if err != nil {
		return nil, err
	}

	members := make([]member, 0, len(cfg.Providers))
	for _, ref := range cfg.Providers {
		p, err := reg.New(ref.Name)
		if err != nil {
			return nil, fmt.Errorf("build ensemble member %q: %w", ref.Name, err)
		}
		weight := ref.Weight
		if weight == 0 {
			weight = 1
		}
		members = append(members, member{provider: p, weight: weight})
	}

	return &Ensemble{
		members:  members,
		strategy: strategy,
		logger:   logger.With(zap.String("component", "provider"), zap.String("provider", Name)),
	}, nil
}

// Name returns the registry key.
func (e *Ensemble) Name() string { return Name }

// Initialize initializes every member.
func (e *Ensemble) Initialize(ctx context.Context) error {
	for _, m := range e.members {
		if err := m.provider.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", m.provider.Name(), err)
		}
	}
	return nil
}

// ConcurrencyDefaults returns the most conservative member default, so the
// fan-out multiplied by phase parallelism cannot overload the slowest member.
func (e *Ensemble) ConcurrencyDefaults() checkpoint.ConcurrencyOverrides {
	min := 0
	for _, m := range e.members {
		h, ok := m.provider.(provider.ConcurrencyHinter)
		if !ok {
			continue
		}
		d := h.ConcurrencyDefaults().Default
		if d > 0 && (min == 0 || d < min) {
			min = d
		}
	}
	return checkpoint.ConcurrencyOverrides{Default: min}
}

// memberTag namespaces the container tag per member so sub-providers sharing
// a backing store never collide.
func memberTag(containerTag, providerName string) string {
	return containerTag + ":" + providerName
}

// Ingest fans the sessions out to every member.
func (e *Ensemble) Ingest(ctx context.Context, sessions []benchmark.Session, opts provider.IngestOptions) (*checkpoint.IngestResult, error) {
	var mu sync.Mutex
	combined := &checkpoint.IngestResult{}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range e.members {
		g.Go(func() error {
			memberOpts := opts
			memberOpts.ContainerTag = memberTag(opts.ContainerTag, m.provider.Name())
			res, err := m.provider.Ingest(gctx, sessions, memberOpts)
			if err != nil {
				return fmt.Errorf("ingest into %s: %w", m.provider.Name(), err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range res.DocumentIDs {
				combined.DocumentIDs = append(combined.DocumentIDs, m.provider.Name()+"/"+id)
			}
			for _, id := range res.TaskIDs {
				combined.TaskIDs = append(combined.TaskIDs, m.provider.Name()+"/"+id)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return combined, nil
}

// AwaitIndexing waits for every member. Member-specific ids are recovered
// from the combined result by prefix.
func (e *Ensemble) AwaitIndexing(ctx context.Context, result *checkpoint.IngestResult, containerTag string, onProgress provider.ProgressFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range e.members {
		g.Go(func() error {
			sub := &checkpoint.IngestResult{}
			prefix := m.provider.Name() + "/"
			for _, id := range result.DocumentIDs {
				if after, ok := strings.CutPrefix(id, prefix); ok {
					sub.DocumentIDs = append(sub.DocumentIDs, after)
				}
			}
			for _, id := range result.TaskIDs {
				if after, ok := strings.CutPrefix(id, prefix); ok {
					sub.TaskIDs = append(sub.TaskIDs, after)
				}
			}
			if err := m.provider.AwaitIndexing(gctx, sub, memberTag(containerTag, m.provider.Name()), onProgress); err != nil {
				return fmt.Errorf("await indexing on %s: %w", m.provider.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Search queries all members in parallel and fuses the ranked lists. Member
// outputs preserve config order so rank-based strategies are deterministic.
func (e *Ensemble) Search(ctx context.Context, query string, opts provider.SearchOptions) ([]any, error) {
	outputs := make([]fusion.ProviderOutput, len(e.members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range e.members {
		g.Go(func() error {
			spanCtx, span := telemetry.StartSearchSpan(gctx, m.provider.Name())
			defer span.End()

			memberOpts := opts
			memberOpts.ContainerTag = memberTag(opts.ContainerTag, m.provider.Name())
			start := time.Now()
			results, err := m.provider.Search(spanCtx, query, memberOpts)
			if err != nil {
				return fmt.Errorf("search on %s: %w", m.provider.Name(), err)
			}
			outputs[i] = fusion.ProviderOutput{
				ProviderName: m.provider.Name(),
				Results:      results,
				LatencyMs:    time.Since(start).Milliseconds(),
				Weight:       m.weight,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused, err := e.strategy.Fuse(ctx, outputs, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("fuse with %s: %w", e.strategy.Name(), err)
	}

	e.logger.Debug("search fused",
		zap.String("strategy", e.strategy.Name()),
		zap.Int("members", len(e.members)),
		zap.Int("fused", len(fused)),
	)
	return fused, nil
}

// Clear clears every member.
func (e *Ensemble) Clear(ctx context.Context, containerTag string) error {
	for _, m := range e.members {
		if err := m.provider.Clear(ctx, memberTag(containerTag, m.provider.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", m.provider.Name(), err)
		}
	}
	return nil
}
