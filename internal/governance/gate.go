package governance

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/phrazzld/agentrun/internal/orchestrator"
	"github.com/phrazzld/agentrun/internal/task"
)

// Gate validates step content and self-corrects it when validation fails.
// It implements orchestrator.QualityGate.
type Gate struct {
	validator *DualCheckValidator
	corrector *SelfCorrectionHandler
	steps     []string
	logger    *slog.Logger
}

// NewGate creates a Gate. With no steps listed every content-producing step is
// reviewed. corrector may be nil, in which case failures are only recorded.
func NewGate(validator *DualCheckValidator, corrector *SelfCorrectionHandler, logger *slog.Logger, steps ...string) *Gate {
	return &Gate{
		validator: validator,
		corrector: corrector,
		steps:     steps,
		logger:    logger.With(slog.String("component", "quality_gate")),
	}
}

// Review implements orchestrator.QualityGate. On a successful correction the
// corrected content replaces llmContent and the prompt that produced it is
// stored under correctedPrompt.
func (g *Gate) Review(
	ctx context.Context,
	tc *task.TaskContext,
	stepName string,
	result *task.StepResult,
) (*orchestrator.Review, error) {
	if len(g.steps) > 0 && !slices.Contains(g.steps, stepName) {
		return &orchestrator.Review{Passed: true}, nil
	}

	verdict := g.validator.Validate(ctx, tc, result.Content)
	if verdict.Valid {
		return &orchestrator.Review{Passed: true}, nil
	}

	tc.AddReasoningStep(task.ReasoningObservation,
		"validation failed: "+strings.Join(verdict.Errors, "; "),
		map[string]any{"step": stepName, "errorCount": len(verdict.Errors)})

	rev := &orchestrator.Review{Errors: verdict.Errors}
	if g.corrector == nil {
		return rev, nil
	}

	imageURL, _ := tc.FirstImagePath()
	correction := g.corrector.CorrectAndRetry(ctx, CorrectionRequest{
		Context:          tc,
		OriginalPrompt:   tc.GetString(task.KeyOriginalPrompt),
		OriginalContent:  result.Content,
		ValidationErrors: verdict.Errors,
		ImageURL:         imageURL,
		OCRText:          tc.OCRTextFor(imageURL),
	})
	rev.RetryCount = correction.RetryCount

	if correction.Success {
		tc.Set(task.KeyLLMContent, correction.CorrectedContent)
		tc.Set(task.KeyCorrectedPrompt, correction.CorrectedPrompt)
		rev.Corrected = true
	}
	tc.AddReasoningStep(task.ReasoningConclusion,
		correctionSummary(correction),
		map[string]any{"step": stepName, "retryCount": correction.RetryCount, "history": correction.History})

	g.logger.InfoContext(ctx, "content reviewed",
		"task_id", tc.TaskID,
		"step", stepName,
		"corrected", rev.Corrected,
		"retry_count", rev.RetryCount)
	return rev, nil
}

func correctionSummary(c CorrectionResult) string {
	if c.Success {
		return "self-correction produced new content"
	}
	return "self-correction did not produce new content"
}

var _ orchestrator.QualityGate = (*Gate)(nil)
