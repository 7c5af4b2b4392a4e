package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/agentrun/internal/orchestrator"
	"github.com/phrazzld/agentrun/internal/store"
	"github.com/phrazzld/agentrun/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrStateNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, orchestrator.ErrDuplicateTask),
		errors.Is(err, orchestrator.ErrTaskTerminal),
		errors.Is(err, orchestrator.ErrTaskInFlight),
		errors.Is(err, task.ErrVersionConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, task.ErrInvalidSubmission),
		errors.Is(err, orchestrator.ErrEmptyTaskID),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Temporarily unable to accept work
	case errors.Is(err, orchestrator.ErrQueueFull),
		errors.Is(err, orchestrator.ErrRunnerStopped):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrStateNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, orchestrator.ErrDuplicateTask),
		errors.Is(err, store.ErrDuplicate):
		return "Task already submitted"

	case errors.Is(err, orchestrator.ErrTaskTerminal):
		return "Task already finished"

	case errors.Is(err, orchestrator.ErrTaskInFlight),
		errors.Is(err, task.ErrVersionConflict):
		return "Task was modified concurrently, retry the request"

	case errors.Is(err, task.ErrInvalidSubmission):
		if msg := SanitizeValidationError(err); msg != "Validation error" {
			return msg
		}
		return "Invalid task submission"

	case errors.Is(err, orchestrator.ErrEmptyTaskID):
		return "Task ID is required"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	case errors.Is(err, orchestrator.ErrQueueFull):
		return "Task queue is full, try again later"

	case errors.Is(err, orchestrator.ErrRunnerStopped):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message naming the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", lowerFirst(fe.Field()), getValidationTagMessage(fe.Tag()))
	}

	// Messages rendered elsewhere, e.g. "Key: 'Submission.TaskType' Error:Field validation for 'TaskType' failed on the 'required' tag"
	errMsg := err.Error()
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 5 {
				return fmt.Sprintf("Invalid %s: %s", lowerFirst(fieldParts[1]), getValidationTagMessage(fieldParts[3]))
			}
			if len(fieldParts) >= 3 {
				return fmt.Sprintf("Invalid %s", lowerFirst(fieldParts[1]))
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "required_without_all":
		return "one of videoKey, videoPath or imageUrl is required"
	case "min":
		return "too small"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
