package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/agentrun/internal/task"
)

// Pagination bounds for GET /api/tasks.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// maxTaskIDLength matches the Submission.TaskID constraint.
const maxTaskIDLength = 128

// getPathTaskID extracts and checks the {id} path parameter.
func getPathTaskID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return "", fmt.Errorf("task id is required")
	}
	if len(id) > maxTaskIDLength {
		return "", fmt.Errorf("task id is too long")
	}
	return id, nil
}

// parseListFilter reads status, taskType, limit and offset query parameters.
// status may repeat or hold a comma-separated list.
func parseListFilter(r *http.Request) (task.ListFilter, error) {
	q := r.URL.Query()
	f := task.ListFilter{
		TaskType: strings.TrimSpace(q.Get("taskType")),
		Limit:    DefaultPageLimit,
	}

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			status := task.TaskStatus(s)
			if !status.Valid() {
				return f, fmt.Errorf("unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = min(n, MaxPageLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}
