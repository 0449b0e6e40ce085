// Package provider defines the memory-provider interface the pipeline drives
// and the registry built-in and external adapters are created through. A
// provider stores haystack sessions under a container tag and answers
// similarity searches scoped to that tag.
package provider

import (
	"context"

	"github.com/BaSui01/membench/benchmark"
	"github.com/BaSui01/membench/checkpoint"
)

// IngestOptions scopes an ingest call.
type IngestOptions struct {
	// ContainerTag isolates this question's memories from every other
	// question in the store.
	ContainerTag string
	// Metadata is attached to every stored document.
	Metadata map[string]string
}

// SearchOptions scopes a search call.
type SearchOptions struct {
	ContainerTag string
	// Limit caps the number of results; zero means provider default.
	Limit int
	// Threshold drops results scored below it, when the provider scores.
	Threshold float64
}

// ProgressFunc reports indexing progress, completed out of total.
type ProgressFunc func(completed, total int)

// Provider is a long-term conversational memory service under benchmark.
// Results returned by Search are opaque, provider-specific shapes; the fusion
// engine and the answer phase extract text from them by field probing.
type Provider interface {
	// Name returns the provider's registry key.
	Name() string

	// Initialize prepares the provider for use.
	Initialize(ctx context.Context) error

	// Ingest stores the sessions under the container tag.
	Ingest(ctx context.Context, sessions []benchmark.Session, opts IngestOptions) (*checkpoint.IngestResult, error)

	// AwaitIndexing blocks until everything named by the ingest result is
	// searchable. onProgress may be nil.
	AwaitIndexing(ctx context.Context, result *checkpoint.IngestResult, containerTag string, onProgress ProgressFunc) error

	// Search returns ranked results for the query within the container tag.
	Search(ctx context.Context, query string, opts SearchOptions) ([]any, error)

	// Clear deletes everything stored under the container tag.
	Clear(ctx context.Context, containerTag string) error
}

// ConcurrencyHinter is an optional interface for providers that declare their
// own safe parallelism. Use type assertion to check support.
type ConcurrencyHinter interface {
	// ConcurrencyDefaults returns the provider's per-phase defaults; the
	// Default field applies to phases without an entry.
	ConcurrencyDefaults() checkpoint.ConcurrencyOverrides
}
