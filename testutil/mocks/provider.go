package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
	"github.com/BaSui01/membench/provider"
)

// MockProvider is a scriptable memory provider.
type MockProvider struct {
	mu sync.Mutex

	// ProviderName defaults to "mock".
	ProviderName string

	// SearchResults is returned by every Search call.
	SearchResults []any
	// SearchFunc, when set, overrides SearchResults.
	SearchFunc func(ctx context.Context, query string, opts provider.SearchOptions) ([]any, error)

	// IngestResult is returned by Ingest; nil yields an empty result.
	IngestResult *checkpoint.IngestResult

	// Errors injected per call site.
	InitializeErr error
	IngestErr     error
	IndexingErr   error
	SearchErr     error
	ClearErr      error

	// Defaults, when set, are reported through ConcurrencyDefaults.
	Defaults *checkpoint.ConcurrencyOverrides

	ingestCalls   []string
	searchCalls   []string
	clearedTags   []string
	indexingCalls int
}

// Name returns the provider name.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Initialize returns the injected error, if any.
func (m *MockProvider) Initialize(context.Context) error { return m.InitializeErr }

// ConcurrencyDefaults reports the scripted defaults.
func (m *MockProvider) ConcurrencyDefaults() checkpoint.ConcurrencyOverrides {
	if m.Defaults == nil {
		return checkpoint.ConcurrencyOverrides{}
	}
	return *m.Defaults
}

// Ingest records the container tag and returns the scripted result.
func (m *MockProvider) Ingest(_ context.Context, _ []benchmark.Session, opts provider.IngestOptions) (*checkpoint.IngestResult, error) {
	m.mu.Lock()
	m.ingestCalls = append(m.ingestCalls, opts.ContainerTag)
	m.mu.Unlock()
	if m.IngestErr != nil {
		return nil, m.IngestErr
	}
	if m.IngestResult == nil {
		return &checkpoint.IngestResult{}, nil
	}
	return m.IngestResult, nil
}

// AwaitIndexing returns the injected error, if any.
func (m *MockProvider) AwaitIndexing(_ context.Context, _ *checkpoint.IngestResult, _ string, _ provider.ProgressFunc) error {
	m.mu.Lock()
	m.indexingCalls++
	m.mu.Unlock()
	return m.IndexingErr
}

// Search records the query and returns the scripted results.
func (m *MockProvider) Search(ctx context.Context, query string, opts provider.SearchOptions) ([]any, error) {
	m.mu.Lock()
	m.searchCalls = append(m.searchCalls, query)
	m.mu.Unlock()
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, opts)
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.SearchResults, nil
}

// Clear records the cleared tag.
func (m *MockProvider) Clear(_ context.Context, containerTag string) error {
	m.mu.Lock()
	m.clearedTags = append(m.clearedTags, containerTag)
	m.mu.Unlock()
	return m.ClearErr
}

// IngestCalls returns the container tags Ingest was called with.
func (m *MockProvider) IngestCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ingestCalls...)
}

// SearchCalls returns the queries Search was called with.
func (m *MockProvider) SearchCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.searchCalls...)
}

// IndexingCalls returns how many times AwaitIndexing ran.
func (m *MockProvider) IndexingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexingCalls
}
