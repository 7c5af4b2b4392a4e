package task

import (
	"context"
	"maps"
)

// Step names of the default pipeline.
const (
	StepFrameExtract = "FrameExtract"
	StepInference    = "Inference"
)

// DefaultStepOrder is the linear pipeline run when no order is configured.
var DefaultStepOrder = []string{StepFrameExtract, StepInference}

// StepRequest is the per-invocation input handed to a StepExecutor.
type StepRequest struct {
	StepName  string         `json:"stepName"`
	VideoPath string         `json:"videoPath,omitempty"`
	ImageURL  string         `json:"imageUrl,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// StepResult carries the outputs of a successful step. Nil slices and maps and
// an empty Content are treated as absent when folding into the TaskContext.
type StepResult struct {
	ImagePaths     []string          `json:"imagePaths,omitempty"`
	OCRTextByImage map[string]string `json:"ocrTextByImage,omitempty"`
	Content        string            `json:"content,omitempty"`
	Data           map[string]any    `json:"data,omitempty"`
}

// StepExecutor is a named unit of work within a task.
//
// Execute blocks until the step finishes or ctx is done. The orchestrator only
// invokes a step once per task unless the task is resumed before the step was
// recorded, so executors should keep their own side effects idempotent.
type StepExecutor interface {
	Name() string
	Execute(ctx context.Context, tc *TaskContext, req StepRequest) (*StepResult, error)
}

// RequestBuilder is implemented by executors that derive their request from
// the live context. Executors without it receive a request carrying only the
// step name.
type RequestBuilder interface {
	BuildRequest(tc *TaskContext) (StepRequest, error)
}

// ApplyResult folds a step result into the context. Only fields present on the
// result overwrite the context: last writer wins, no deep merge. Content is
// stored under CustomData["llmContent"], and Data entries are copied into
// CustomData key by key.
func ApplyResult(tc *TaskContext, result *StepResult) {
	if tc == nil || result == nil {
		return
	}
	if result.ImagePaths != nil {
		tc.ImagePaths = append([]string(nil), result.ImagePaths...)
	}
	if result.OCRTextByImage != nil {
		tc.OCRTextByImage = maps.Clone(result.OCRTextByImage)
	}
	if result.Content != "" {
		tc.Set(KeyLLMContent, result.Content)
	}
	for k, v := range result.Data {
		tc.Set(k, v)
	}
}
