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

// semanticIssueMarkers flag a semantic review that found a problem.
var semanticIssueMarkers = []string{"error", "invalid", "矛盾", "不一致"}

const semanticCheckPrompt = `Check the following JSON data for logical contradictions or inconsistencies.
Pay particular attention to:
1. Relationships between numeric fields (price, quantity, total)
2. Plausibility of time fields (a start must precede its end)
3. Whether enumerated fields hold legal values
4. Whether required fields are missing
5. Whether dependencies between fields hold

Describe every problem you find in detail. If there is none, reply "validation passed".

Data:
%s`

// ValidationResult is the verdict of a DualCheckValidator.
type ValidationResult struct {
	Valid   bool
	Errors  []string
	Details map[string]any
}

// DualCheckValidator validates model output twice: against the rules
// registered for the task's business type, and by asking a model to review
// the content for contradictions.
type DualCheckValidator struct {
	rules    *RuleRegistry
	client   llm.Client
	semantic bool
	logger   *slog.Logger
}

// NewDualCheckValidator creates a validator. rules and client may be nil; the
// semantic check only runs when semantic is true and client is set.
func NewDualCheckValidator(rules *RuleRegistry, client llm.Client, semantic bool, logger *slog.Logger) *DualCheckValidator {
	return &DualCheckValidator{
		rules:    rules,
		client:   client,
		semantic: semantic,
		logger:   logger.With(slog.String("component", "dual_check_validator")),
	}
}

// Validate runs both checks. It never returns an error: a semantic check that
// cannot run is reported as a validation error.
func (v *DualCheckValidator) Validate(ctx context.Context, tc *task.TaskContext, content string) ValidationResult {
	res := ValidationResult{Valid: true, Details: make(map[string]any)}
	bizType := prompt.InferBizType(tc)

	ruleCount := 0
	if v.rules != nil {
		results := v.rules.ValidateAll(ctx, bizType, tc, content)
		ruleCount = len(results)
		for _, r := range results {
			if !r.Valid {
				res.addError(fmt.Sprintf("rule %s failed: %s", r.RuleName, r.Message))
			}
		}
	}

	semantic := v.semantic && v.client != nil
	if semantic {
		if issue := v.semanticCheck(ctx, tc, content); issue != "" {
			res.addError("semantic check failed: " + issue)
		}
	}

	res.Details["ruleValidationCount"] = ruleCount
	res.Details["semanticCheckEnabled"] = semantic

	v.logger.InfoContext(ctx, "content validated",
		"task_id", tc.TaskID,
		"biz_type", bizType,
		"valid", res.Valid,
		"error_count", len(res.Errors))
	return res
}

func (v *DualCheckValidator) semanticCheck(ctx context.Context, tc *task.TaskContext, content string) string {
	reply, err := v.client.Generate(ctx, fmt.Sprintf(semanticCheckPrompt, content))
	if err != nil {
		v.logger.ErrorContext(ctx, "semantic check failed to run", "task_id", tc.TaskID, "error", err)
		return "could not run semantic check: " + err.Error()
	}
	lower := strings.ToLower(reply)
	for _, marker := range semanticIssueMarkers {
		if strings.Contains(lower, marker) {
			return reply
		}
	}
	return ""
}

func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}
