package task

import (
	"maps"
	"slices"
	"time"
)

// ReasoningStepType classifies an entry in a task's reasoning log.
type ReasoningStepType string

// Reasoning step types
const (
	ReasoningThought     ReasoningStepType = "THOUGHT"
	ReasoningAction      ReasoningStepType = "ACTION"
	ReasoningObservation ReasoningStepType = "OBSERVATION"
	ReasoningConclusion  ReasoningStepType = "CONCLUSION"
)

// Well-known CustomData keys written by the orchestrator and the built-in steps.
const (
	KeyLLMContent      = "llmContent"
	KeyOriginalPrompt  = "originalPrompt"
	KeyPrompt          = "prompt"
	KeyCorrectedPrompt = "correctedPrompt"
	KeyImageURL        = "imageUrl"
)

// ReasoningStep is one entry of the append-only audit log kept on a TaskContext.
type ReasoningStep struct {
	StepNumber int               `json:"stepNumber"`
	Type       ReasoningStepType `json:"type"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// TaskContext is the mutable data bag carried through every step of a task.
//
// A TaskContext is owned by the goroutine running its task and is not safe for
// concurrent use. Use Clone when an isolated copy is needed.
type TaskContext struct {
	TaskID         string            `json:"taskId"`
	TaskType       string            `json:"taskType,omitempty"`
	VideoKey       string            `json:"videoKey,omitempty"`
	LinkName       string            `json:"linkName,omitempty"`
	SubmitDate     string            `json:"submitDate,omitempty"`
	LocalVideoPath string            `json:"localVideoPath,omitempty"`
	ImagePaths     []string          `json:"imagePaths,omitempty"`
	KeptImagePaths []string          `json:"keptImagePaths,omitempty"`
	OCRTextByImage map[string]string `json:"ocrTextByImage,omitempty"`
	CustomData     map[string]any    `json:"customData,omitempty"`
	ReasoningSteps []ReasoningStep   `json:"reasoningSteps,omitempty"`
}

// NewTaskContext creates an empty context for the given task id.
func NewTaskContext(taskID string) *TaskContext {
	return &TaskContext{
		TaskID:         taskID,
		OCRTextByImage: make(map[string]string),
		CustomData:     make(map[string]any),
	}
}

// Get returns the CustomData value stored under key.
func (c *TaskContext) Get(key string) (any, bool) {
	if c.CustomData == nil {
		return nil, false
	}
	v, ok := c.CustomData[key]
	return v, ok
}

// Set stores value under key in CustomData.
func (c *TaskContext) Set(key string, value any) {
	if c.CustomData == nil {
		c.CustomData = make(map[string]any)
	}
	c.CustomData[key] = value
}

// GetString returns the CustomData value under key if it is a string, or "".
func (c *TaskContext) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// FirstImagePath returns the first extracted frame, if any.
func (c *TaskContext) FirstImagePath() (string, bool) {
	if len(c.ImagePaths) == 0 {
		return "", false
	}
	return c.ImagePaths[0], true
}

// OCRTextFor returns the OCR text recorded for an image path.
func (c *TaskContext) OCRTextFor(imagePath string) string {
	return c.OCRTextByImage[imagePath]
}

// SetOCRText records OCR text for an image path.
func (c *TaskContext) SetOCRText(imagePath, text string) {
	if c.OCRTextByImage == nil {
		c.OCRTextByImage = make(map[string]string)
	}
	c.OCRTextByImage[imagePath] = text
}

// AddReasoningStep appends an entry to the reasoning log, numbering it after
// the last entry.
func (c *TaskContext) AddReasoningStep(stepType ReasoningStepType, content string, metadata map[string]any) {
	c.ReasoningSteps = append(c.ReasoningSteps, ReasoningStep{
		StepNumber: len(c.ReasoningSteps) + 1,
		Type:       stepType,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	})
}

// Clone returns a deep copy of the context. Slices and maps are copied, as are
// nested map[string]any and []any values inside CustomData and step metadata.
func (c *TaskContext) Clone() *TaskContext {
	if c == nil {
		return nil
	}
	clone := *c
	clone.ImagePaths = slices.Clone(c.ImagePaths)
	clone.KeptImagePaths = slices.Clone(c.KeptImagePaths)
	clone.OCRTextByImage = maps.Clone(c.OCRTextByImage)
	clone.CustomData = cloneMap(c.CustomData)
	if c.ReasoningSteps != nil {
		clone.ReasoningSteps = make([]ReasoningStep, len(c.ReasoningSteps))
		for i, step := range c.ReasoningSteps {
			step.Metadata = cloneMap(step.Metadata)
			clone.ReasoningSteps[i] = step
		}
	}
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(val)
	case map[string]string:
		return maps.Clone(val)
	default:
		return v
	}
}
