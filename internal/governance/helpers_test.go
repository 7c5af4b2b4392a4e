package governance

import (
	"io"
	"log/slog"

	"github.com/phrazzld/agentrun/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gaodeContext() *task.TaskContext {
	tc := task.NewTaskContext("task-1")
	tc.TaskType = "GAODE"
	tc.ImagePaths = []string{"/frames/f1.jpg", "/frames/f2.jpg"}
	tc.SetOCRText("/frames/f1.jpg", "fare 23.5")
	tc.Set(task.KeyOriginalPrompt, "extract the fare")
	return tc
}

type stubReflection struct {
	prompt string
	err    error
	calls  int
}

func (s *stubReflection) BuildReflectPrompt(string, string, string, []string, int) (string, error) {
	s.calls++
	return s.prompt, s.err
}
