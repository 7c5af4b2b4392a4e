// Package mocks holds test doubles shared across packages.
//
// MockLLMClient implements llm.Client. Set InferFn or GenerateFn for per-call
// behavior, or Content and Err for a fixed reply; every call is recorded:
//
//	client := mocks.NewMockLLMClientWithContent(`{"price":"12.50"}`)
//	exec := steps.NewInferenceExecutor(client, logger)
//	...
//	calls := client.InferCalls()
package mocks
