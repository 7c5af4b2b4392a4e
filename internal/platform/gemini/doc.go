// Package gemini provides an implementation of the llm.Client interface
// backed by Google's Gemini API.
//
// This package is an infrastructure adapter, connecting task steps to the
// external model without exposing the details of the service to the rest of
// the application.
//
// Key components:
//
// 1. Client:
//   - Implements llm.Client (Infer and Generate)
//   - Sends extracted frames inline, or by URI when they are already hosted
//
// 2. Error Handling:
//   - Retries transient failures with exponential backoff and jitter
//   - Maps blocked and empty responses to the llm error sentinels
//   - Fails fast on permanent API errors such as invalid requests
//
// The package depends on the google.golang.org/genai client library for
// communicating with the Gemini API.
package gemini
