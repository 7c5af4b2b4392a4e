package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedStep struct{ name string }

func (s namedStep) Name() string { return s.name }

func (s namedStep) Execute(context.Context, *TaskContext, StepRequest) (*StepResult, error) {
	return &StepResult{}, nil
}

func TestApplyResult_LastWriterWins(t *testing.T) {
	t.Parallel()

	tc := NewTaskContext("t1")
	tc.ImagePaths = []string{"old.jpg"}
	tc.SetOCRText("old.jpg", "EXIT 12")
	tc.Set("linkQuality", "good")

	ApplyResult(tc, &StepResult{ImagePaths: []string{"1.jpg", "2.jpg"}})

	assert.Equal(t, []string{"1.jpg", "2.jpg"}, tc.ImagePaths)
	assert.Equal(t, map[string]string{"old.jpg": "EXIT 12"}, tc.OCRTextByImage)
	assert.Equal(t, "good", tc.GetString("linkQuality"))
	_, hasContent := tc.Get(KeyLLMContent)
	assert.False(t, hasContent)
}

func TestApplyResult_ContentAndData(t *testing.T) {
	t.Parallel()

	tc := NewTaskContext("t1")
	tc.Set("keep", 1)
	tc.Set("replace", "before")

	ApplyResult(tc, &StepResult{
		Content:        `{"lanes":2}`,
		OCRTextByImage: map[string]string{"1.jpg": "SPEED 60"},
		Data:           map[string]any{"replace": "after", "model": "gemini"},
	})

	assert.Equal(t, `{"lanes":2}`, tc.GetString(KeyLLMContent))
	assert.Equal(t, "SPEED 60", tc.OCRTextFor("1.jpg"))
	assert.Equal(t, 1, tc.CustomData["keep"])
	assert.Equal(t, "after", tc.GetString("replace"))
	assert.Equal(t, "gemini", tc.GetString("model"))
}

func TestApplyResult_Nil(t *testing.T) {
	t.Parallel()

	tc := NewTaskContext("t1")
	ApplyResult(tc, nil)
	ApplyResult(nil, &StepResult{Content: "x"})
	assert.Empty(t, tc.CustomData)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(namedStep{StepFrameExtract}, namedStep{StepInference})
	require.NoError(t, err)

	e, ok := r.Lookup(StepInference)
	require.True(t, ok)
	assert.Equal(t, StepInference, e.Name())

	_, ok = r.Lookup("Unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{StepFrameExtract, StepInference}, r.Names())
	assert.ErrorIs(t, r.Register(namedStep{StepInference}), ErrDuplicateStep)
	assert.ErrorIs(t, r.Register(namedStep{""}), ErrEmptyStepName)

	_, err = NewRegistry(namedStep{"A"}, namedStep{"A"})
	assert.ErrorIs(t, err, ErrDuplicateStep)
}

func TestSubmission(t *testing.T) {
	t.Parallel()

	valid := Submission{
		TaskType:   "gaode_road",
		VideoKey:   "videos/2026/10/clip.mp4",
		LinkName:   "link-7",
		VideoPath:  "/tmp/clip.mp4",
		Prompt:     "list the lane markings",
		CustomData: map[string]any{"region": "north"},
	}
	require.NoError(t, valid.Validate())

	tc := valid.ToContext("t1")
	assert.Equal(t, "t1", tc.TaskID)
	assert.Equal(t, "/tmp/clip.mp4", tc.LocalVideoPath)
	assert.Equal(t, "list the lane markings", tc.GetString(KeyPrompt))
	assert.Equal(t, "north", tc.GetString("region"))
	assert.Empty(t, tc.ImagePaths)

	imageOnly := Submission{TaskType: "xiaola", ImageURL: "gs://bucket/frame.jpg"}
	require.NoError(t, imageOnly.Validate())
	assert.Equal(t, []string{"gs://bucket/frame.jpg"}, imageOnly.ToContext("t2").ImagePaths)

	missingType := Submission{VideoKey: "k"}
	assert.ErrorIs(t, missingType.Validate(), ErrInvalidSubmission)

	noInput := Submission{TaskType: "gaode"}
	assert.ErrorIs(t, noInput.Validate(), ErrInvalidSubmission)
}
