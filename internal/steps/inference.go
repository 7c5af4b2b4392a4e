package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/agentrun/internal/llm"
	"github.com/phrazzld/agentrun/internal/task"
)

// DefaultInferencePrompt is used when neither the task nor the prompt manager
// supplies one.
const DefaultInferencePrompt = "Describe the key information visible in this image and return it as JSON."

// PromptBuilder renders the inference prompt for a task. *prompt.Manager
// implements it.
type PromptBuilder interface {
	BuildInferencePrompt(tc *task.TaskContext, ocrText string) (string, error)
}

// InferenceExecutor reads the extracted frames with OCR and asks the model
// about the first one.
type InferenceExecutor struct {
	client  llm.Client
	prompts PromptBuilder
	ocr     OCR
	logger  *slog.Logger
}

// InferenceOption configures an InferenceExecutor.
type InferenceOption func(*InferenceExecutor)

// WithPromptBuilder renders prompts for tasks that do not carry their own.
func WithPromptBuilder(b PromptBuilder) InferenceOption {
	return func(e *InferenceExecutor) { e.prompts = b }
}

// WithOCR runs OCR over every frame before inference.
func WithOCR(o OCR) InferenceOption {
	return func(e *InferenceExecutor) { e.ocr = o }
}

// NewInferenceExecutor creates the Inference step.
func NewInferenceExecutor(client llm.Client, logger *slog.Logger, opts ...InferenceOption) *InferenceExecutor {
	e := &InferenceExecutor{
		client: client,
		logger: logger.With(slog.String("component", "inference_step")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements task.StepExecutor.
func (e *InferenceExecutor) Name() string {
	return task.StepInference
}

// BuildRequest implements task.RequestBuilder. The image is the first frame;
// the prompt is the task's own "prompt" entry when present.
func (e *InferenceExecutor) BuildRequest(tc *task.TaskContext) (task.StepRequest, error) {
	image, ok := tc.FirstImagePath()
	if !ok {
		return task.StepRequest{}, ErrNoImage
	}
	return task.StepRequest{
		StepName: task.StepInference,
		ImageURL: image,
		Prompt:   tc.GetString(task.KeyPrompt),
	}, nil
}

// Execute implements task.StepExecutor. The prompt actually sent is stored
// under originalPrompt so a later correction can start from it.
func (e *InferenceExecutor) Execute(ctx context.Context, tc *task.TaskContext, req task.StepRequest) (*task.StepResult, error) {
	if req.ImageURL == "" {
		return nil, ErrNoImage
	}

	var ocrText map[string]string
	if e.ocr != nil && len(tc.ImagePaths) > 0 {
		var err error
		ocrText, err = e.ocr.Recognize(ctx, tc.ImagePaths)
		if err != nil {
			return nil, fmt.Errorf("ocr failed: %w", err)
		}
		for path, text := range ocrText {
			tc.SetOCRText(path, text)
		}
	}

	recognized, empty := 0, 0
	for _, text := range ocrText {
		if strings.TrimSpace(text) != "" {
			recognized++
		} else {
			empty++
		}
	}
	imageText := tc.OCRTextFor(req.ImageURL)

	prompt := req.Prompt
	if prompt == "" && e.prompts != nil {
		built, err := e.prompts.BuildInferencePrompt(tc, imageText)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to build prompt, using default", "task_id", tc.TaskID, "error", err)
		} else {
			prompt = built
		}
	}
	if prompt == "" {
		prompt = DefaultInferencePrompt
	}
	tc.Set(task.KeyOriginalPrompt, prompt)

	content, err := e.client.Infer(ctx, prompt, req.ImageURL, imageText)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	e.logger.InfoContext(ctx, "inference finished",
		"task_id", tc.TaskID,
		"image", req.ImageURL,
		"ocr_recognized", recognized,
		"ocr_empty", empty,
		"content_length", len(content))
	return &task.StepResult{
		OCRTextByImage: ocrText,
		Content:        content,
		Data: map[string]any{
			"successCount": recognized,
			"emptyCount":   empty,
		},
	}, nil
}

var (
	_ task.StepExecutor   = (*InferenceExecutor)(nil)
	_ task.RequestBuilder = (*InferenceExecutor)(nil)
)
