package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/agentrun/internal/api"
	"github.com/phrazzld/agentrun/internal/config"
	"github.com/phrazzld/agentrun/internal/mocks"
	"github.com/phrazzld/agentrun/internal/orchestrator"
	"github.com/phrazzld/agentrun/internal/task"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadTestConfig writes yaml to a temp file and loads it.
func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	return cfg
}

const inferenceOnlyConfig = `
server:
  shutdown_timeout: 5s
orchestrator:
  step_order: [Inference]
  worker_count: 2
llm:
  gemini_api_key: test-key
`

func TestApplication_SubmitAndComplete(t *testing.T) {
	cfg := loadTestConfig(t, inferenceOnlyConfig)
	client := mocks.NewMockLLMClientWithContent(`{"price":"12.50"}`)

	app, err := newApplication(context.Background(), cfg, testLogger(), withLLMClient(client))
	require.NoError(t, err)
	require.NoError(t, app.runner.Start())
	defer app.cleanup()

	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/tasks", "application/json",
		strings.NewReader(`{"taskType":"GAODE","imageUrl":"https://example.com/frame.jpg"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted api.SubmitTaskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))

	var detail api.TaskDetailResponse
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/api/tasks/" + submitted.TaskID)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&detail); err != nil {
			return false
		}
		return detail.Status == task.TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 100, detail.Progress)
	assert.Equal(t, `{"price":"12.50"}`, detail.Content)
	assert.Equal(t, []string{task.StepInference}, detail.ExecutedSteps)

	calls := client.InferCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://example.com/frame.jpg", calls[0].ImageURL)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `agentrun_task_status_total{status="success"} 1`)

	healthResp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}

func TestApplication_AuthRequired(t *testing.T) {
	cfg := loadTestConfig(t, inferenceOnlyConfig+`
auth:
  jwt_secret: `+testJWTSecret+`
  required: true
`)
	app, err := newApplication(context.Background(), cfg, testLogger(),
		withLLMClient(mocks.NewMockLLMClientWithContent(`{}`)))
	require.NoError(t, err)
	defer app.cleanup()

	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "health stays public")
}

func TestNewApplication_UnknownStep(t *testing.T) {
	cfg := loadTestConfig(t, `
orchestrator:
  step_order: [FrameExtract, Transcode]
governance:
  enabled: false
`)
	_, err := newApplication(context.Background(), cfg, testLogger())
	assert.ErrorIs(t, err, orchestrator.ErrUnknownStep)
}

func TestNewApplication_FrameExtractOnly(t *testing.T) {
	cfg := loadTestConfig(t, `
orchestrator:
  step_order: [FrameExtract]
  work_dir: `+t.TempDir()+`
observability:
  metrics_enabled: false
`)
	app, err := newApplication(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer app.cleanup()

	assert.Nil(t, app.llmClient)
	assert.Nil(t, app.metrics)
	assert.Equal(t, []string{task.StepFrameExtract}, app.orchestrator.StepOrder())
	assert.Equal(t, orchestrator.DefaultMaxConcurrentSteps, app.permits.Capacity())

	rr := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRootCmd_Version(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "agentrun "+Version)
}

func TestRootCmd_MigrateRejectsUnknownCommand(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"migrate", "sideways"})

	assert.Error(t, cmd.Execute())
}
