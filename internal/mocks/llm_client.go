package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/agentrun/internal/llm"
)

// InferCall records the arguments of one Infer call.
type InferCall struct {
	Prompt   string
	ImageURL string
	OCRText  string
}

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	// InferFn allows test cases to mock the Infer behavior
	InferFn func(ctx context.Context, prompt, imageURL, ocrText string) (string, error)

	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, prompt string) (string, error)

	// Default response values
	Content string
	Err     error

	mu            sync.Mutex
	inferCalls    []InferCall
	generateCalls []string
}

// Infer implements llm.Client
func (m *MockLLMClient) Infer(ctx context.Context, prompt, imageURL, ocrText string) (string, error) {
	m.mu.Lock()
	m.inferCalls = append(m.inferCalls, InferCall{Prompt: prompt, ImageURL: imageURL, OCRText: ocrText})
	m.mu.Unlock()

	if m.InferFn != nil {
		return m.InferFn(ctx, prompt, imageURL, ocrText)
	}
	return m.Content, m.Err
}

// Generate implements llm.Client
func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.generateCalls = append(m.generateCalls, prompt)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt)
	}
	return m.Content, m.Err
}

// InferCalls returns a copy of the recorded Infer calls.
func (m *MockLLMClient) InferCalls() []InferCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferCall(nil), m.inferCalls...)
}

// GenerateCalls returns the prompts passed to Generate.
func (m *MockLLMClient) GenerateCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.generateCalls...)
}

// Reset clears the call tracking state
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferCalls = nil
	m.generateCalls = nil
}

// NewMockLLMClientWithContent creates a MockLLMClient that always returns content
func NewMockLLMClientWithContent(content string) *MockLLMClient {
	return &MockLLMClient{Content: content}
}

// NewMockLLMClientWithError creates a MockLLMClient that always fails with err
func NewMockLLMClientWithError(err error) *MockLLMClient {
	return &MockLLMClient{Err: err}
}

var _ llm.Client = (*MockLLMClient)(nil)
