// Package llm defines the boundary between task steps and the multimodal
// language model that reads extracted frames. Implementations live under
// internal/platform (Gemini); tests use mocks.MockLLMClient.
package llm
