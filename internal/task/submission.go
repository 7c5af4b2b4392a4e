package task

import (
	"fmt"
	"maps"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Submission is the payload an upstream caller sends to start a task.
type Submission struct {
	TaskID     string         `json:"taskId,omitempty" validate:"omitempty,max=128"`
	TaskType   string         `json:"taskType" validate:"required,max=64"`
	VideoKey   string         `json:"videoKey,omitempty" validate:"required_without_all=VideoPath ImageURL"`
	LinkName   string         `json:"linkName,omitempty"`
	SubmitDate string         `json:"submitDate,omitempty"`
	VideoPath  string         `json:"videoPath,omitempty"`
	ImageURL   string         `json:"imageUrl,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	CustomData map[string]any `json:"customData,omitempty"`
}

// Validate checks the submission's required fields.
func (s *Submission) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	return nil
}

// ToContext builds the initial TaskContext for the submission. A submitted
// image URL seeds ImagePaths so an Inference-only run has an input frame.
func (s *Submission) ToContext(taskID string) *TaskContext {
	tc := NewTaskContext(taskID)
	tc.TaskType = s.TaskType
	tc.VideoKey = s.VideoKey
	tc.LinkName = s.LinkName
	tc.SubmitDate = s.SubmitDate
	tc.LocalVideoPath = s.VideoPath
	if s.CustomData != nil {
		tc.CustomData = maps.Clone(s.CustomData)
	}
	if s.ImageURL != "" {
		tc.ImagePaths = []string{s.ImageURL}
		tc.Set(KeyImageURL, s.ImageURL)
	}
	if s.Prompt != "" {
		tc.Set(KeyPrompt, s.Prompt)
	}
	return tc
}
