package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/agentrun/internal/llm"
	"github.com/phrazzld/agentrun/internal/prompt"
	"github.com/phrazzld/agentrun/internal/task"
)

// DefaultMaxRetries bounds the correction attempts per review.
const DefaultMaxRetries = 3

// ReflectionPromptBuilder renders the prompt used to retry a rejected answer.
// *prompt.Manager implements it.
type ReflectionPromptBuilder interface {
	BuildReflectPrompt(bizType, originalPrompt, originalContent string, validationErrors []string, attempt int) (string, error)
}

// CorrectionRequest carries everything needed to retry an inference.
type CorrectionRequest struct {
	Context          *task.TaskContext
	OriginalPrompt   string
	OriginalContent  string
	ValidationErrors []string
	ImageURL         string
	OCRText          string
}

// CorrectionResult reports the outcome of CorrectAndRetry. History holds one
// line per attempt.
type CorrectionResult struct {
	Success          bool
	CorrectedContent string
	CorrectedPrompt  string
	RetryCount       int
	History          []string
}

// SelfCorrectionHandler rewrites a rejected prompt and re-runs the inference
// until the model produces different content or the retry budget runs out.
type SelfCorrectionHandler struct {
	client     llm.Client
	reflection ReflectionPromptBuilder
	maxRetries int
	logger     *slog.Logger
}

// CorrectionOption configures a SelfCorrectionHandler.
type CorrectionOption func(*SelfCorrectionHandler)

// WithMaxRetries sets the retry budget. Values below one keep the default.
func WithMaxRetries(n int) CorrectionOption {
	return func(h *SelfCorrectionHandler) {
		if n > 0 {
			h.maxRetries = n
		}
	}
}

// WithReflectionPromptBuilder renders retry prompts from templates instead of
// asking the model to rewrite the prompt.
func WithReflectionPromptBuilder(b ReflectionPromptBuilder) CorrectionOption {
	return func(h *SelfCorrectionHandler) {
		h.reflection = b
	}
}

// NewSelfCorrectionHandler creates a handler that retries through client.
func NewSelfCorrectionHandler(client llm.Client, logger *slog.Logger, opts ...CorrectionOption) *SelfCorrectionHandler {
	h := &SelfCorrectionHandler{
		client:     client,
		maxRetries: DefaultMaxRetries,
		logger:     logger.With(slog.String("component", "self_correction")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MaxRetries returns the retry budget.
func (h *SelfCorrectionHandler) MaxRetries() int {
	return h.maxRetries
}

// CorrectAndRetry makes up to MaxRetries attempts. Each attempt derives an
// improved prompt from the previous one and the validation errors, then
// re-runs the inference with the same image and OCR text. An attempt succeeds
// when the model returns non-empty content that differs from the original.
// Failed attempts are recorded and the loop moves on; a cancelled context
// ends it early.
func (h *SelfCorrectionHandler) CorrectAndRetry(ctx context.Context, req CorrectionRequest) CorrectionResult {
	var res CorrectionResult
	taskID := ""
	if req.Context != nil {
		taskID = req.Context.TaskID
	}
	logger := h.logger.With("task_id", taskID)

	if h.client == nil {
		logger.WarnContext(ctx, "no language model configured, cannot self-correct")
		res.History = append(res.History, "no language model configured")
		return res
	}

	logger.InfoContext(ctx, "starting self-correction",
		"error_count", len(req.ValidationErrors),
		"max_retries", h.maxRetries)

	currentPrompt := req.OriginalPrompt
	currentContent := req.OriginalContent

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.History = append(res.History, fmt.Sprintf("attempt %d: not started - %v", attempt, err))
			break
		}
		res.RetryCount = attempt

		improved, source := h.improvePrompt(ctx, req.Context, currentPrompt, currentContent, req.ValidationErrors, attempt)

		content, err := h.client.Infer(ctx, improved, req.ImageURL, req.OCRText)
		if err != nil {
			logger.ErrorContext(ctx, "self-correction attempt failed",
				"attempt", attempt,
				"error", err)
			res.History = append(res.History, fmt.Sprintf("attempt %d: failed - %v", attempt, err))
			continue
		}
		currentPrompt = improved
		currentContent = content

		if content != "" && content != req.OriginalContent {
			res.History = append(res.History, fmt.Sprintf("attempt %d: %s prompt, content changed", attempt, source))
			res.Success = true
			res.CorrectedContent = content
			res.CorrectedPrompt = improved
			logger.InfoContext(ctx, "self-correction succeeded", "attempt", attempt)
			return res
		}
		res.History = append(res.History, fmt.Sprintf("attempt %d: %s prompt, content unchanged", attempt, source))
	}

	logger.WarnContext(ctx, "self-correction exhausted retries",
		"max_retries", h.maxRetries,
		"attempts", res.RetryCount)
	res.CorrectedContent = currentContent
	res.CorrectedPrompt = currentPrompt
	return res
}

// improvePrompt returns the next prompt and which strategy produced it.
func (h *SelfCorrectionHandler) improvePrompt(
	ctx context.Context,
	tc *task.TaskContext,
	currentPrompt, currentContent string,
	validationErrors []string,
	attempt int,
) (string, string) {
	if h.reflection != nil {
		p, err := h.reflection.BuildReflectPrompt(prompt.InferBizType(tc), currentPrompt, currentContent, validationErrors, attempt)
		if err == nil && p != "" {
			return p, "reflection"
		}
		h.logger.WarnContext(ctx, "failed to build reflection prompt", "attempt", attempt, "error", err)
	}

	p, err := h.client.Generate(ctx, rewriteRequest(currentPrompt, currentContent, validationErrors))
	if err == nil && strings.TrimSpace(p) != "" {
		return p, "rewritten"
	}
	if err != nil {
		h.logger.WarnContext(ctx, "model failed to rewrite prompt", "attempt", attempt, "error", err)
	}
	return fallbackPrompt(currentPrompt, validationErrors), "fallback"
}

func rewriteRequest(originalPrompt, originalContent string, validationErrors []string) string {
	var b strings.Builder
	b.WriteString("Original task:\n")
	b.WriteString(originalPrompt)
	b.WriteString("\n\nOriginal answer:\n")
	b.WriteString(originalContent)
	b.WriteString("\n\nErrors found during validation:\n")
	writeNumbered(&b, validationErrors)
	b.WriteString("\nWrite an improved task description (prompt) that:\n")
	b.WriteString("1. names the problems that must be fixed\n")
	b.WriteString("2. gives clearer guidance\n")
	b.WriteString("3. makes the output satisfy the validation requirements\n")
	b.WriteString("4. keeps the original goal of the task\n\n")
	b.WriteString("Return only the improved prompt.")
	return b.String()
}

func fallbackPrompt(originalPrompt string, validationErrors []string) string {
	var b strings.Builder
	b.WriteString(originalPrompt)
	b.WriteString("\n\nImportant: make sure the output satisfies these requirements:\n")
	writeNumbered(&b, validationErrors)
	b.WriteString("\nCheck the answer carefully and fix the problems above.")
	return b.String()
}

func writeNumbered(b *strings.Builder, items []string) {
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}
