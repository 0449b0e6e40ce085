package llm

import "context"

// Provider is the unified LLM adapter interface. Every blocking call takes a
// context; implementations must map upstream failures to coded errors from
// the types package.
type Provider interface {
	// Completion performs a synchronous chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider's unique identifier.
	Name() string
}
