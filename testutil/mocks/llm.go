// Package mocks provides test doubles for the LLM client and the memory
// provider interfaces. Supports fixed responses, scripted per-call responses,
// and error injection.
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/membench/llm"
)

// LLMCall records one Completion invocation.
type LLMCall struct {
	Model    string
	Messages []llm.Message
}

// MockLLM is a scriptable llm.Provider.
type MockLLM struct {
	mu sync.Mutex

	// Response is returned for every call when Responses is empty.
	Response string
	// Responses are consumed one per call, in order. When exhausted,
	// Response is used.
	Responses []string
	// Err, when set, is returned by every call.
	Err error
	// CompletionFunc, when set, overrides all other behavior.
	CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	calls []LLMCall
}

// Name returns the mock's provider name.
func (m *MockLLM) Name() string { return "mock" }

// Completion returns the scripted response.
func (m *MockLLM) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, LLMCall{Model: req.Model, Messages: req.Messages})
	fn := m.CompletionFunc
	err := m.Err
	text := m.Response
	if len(m.Responses) > 0 {
		text = m.Responses[0]
		m.Responses = m.Responses[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Model: req.Model,
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: text}},
		},
		Usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockLLM) Calls() []LLMCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LLMCall(nil), m.calls...)
}

// CallCount returns the number of Completion invocations.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
