package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/phrazzld/agentrun/internal/task"
)

//go:embed templates/*.tmpl
var builtinTemplates embed.FS

// Stage identifies which part of a conversation a template renders.
type Stage string

const (
	StageSystem     Stage = "SYSTEM"
	StageExtraction Stage = "EXTRACTION"
	StageReflect    Stage = "REFLECT"
)

// Business types with dedicated templates.
const (
	BizTypeGaode   = "GAODE"
	BizTypeXiaola  = "XIAOLA"
	BizTypeDefault = "DEFAULT"
)

// Context keys read when rendering an extraction prompt.
const (
	KeyTargetField = "targetField"
	KeyRole        = "role"
)

// ErrTemplateNotFound is returned when neither a business-specific nor a
// DEFAULT template exists for a stage.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Data is the value every template is executed with.
type Data struct {
	BizType         string
	Role            string
	OCRData         string
	TargetField     string
	OriginalPrompt  string
	OriginalContent string
	Errors          []string
	Attempt         int
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// Manager renders prompts from a parsed template set. It is safe for
// concurrent use once constructed.
type Manager struct {
	templates *template.Template
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	templateDir string
}

// WithTemplateDir overlays the *.tmpl files found in dir on the built-in
// templates. An empty dir is ignored.
func WithTemplateDir(dir string) Option {
	return func(o *managerOptions) {
		o.templateDir = dir
	}
}

// NewManager parses the built-in templates and any configured overrides.
func NewManager(logger *slog.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to open built-in templates: %w", err)
	}
	tmpl, err := template.New("prompts").Funcs(funcs).ParseFS(sub, "*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in templates: %w", err)
	}

	if o.templateDir != "" {
		overrides, err := fs.Glob(os.DirFS(o.templateDir), "*.tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to list templates in %s: %w", o.templateDir, err)
		}
		if len(overrides) > 0 {
			tmpl, err = tmpl.ParseFS(os.DirFS(o.templateDir), overrides...)
			if err != nil {
				return nil, fmt.Errorf("failed to parse templates in %s: %w", o.templateDir, err)
			}
		}
		logger.Info("loaded prompt template overrides",
			"template_dir", o.templateDir,
			"count", len(overrides))
	}

	return &Manager{
		templates: tmpl,
		logger:    logger.With(slog.String("component", "prompt_manager")),
	}, nil
}

// Build renders the template for bizType and stage.
func (m *Manager) Build(bizType string, stage Stage, data Data) (string, error) {
	if bizType == "" {
		bizType = BizTypeDefault
	}
	t := m.templates.Lookup(templateName(bizType, stage))
	if t == nil {
		t = m.templates.Lookup(templateName(BizTypeDefault, stage))
	}
	if t == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, bizType, stage)
	}

	data.BizType = bizType
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", t.Name(), err)
	}

	prompt := strings.TrimSpace(buf.String())
	m.logger.Debug("prompt rendered",
		"biz_type", bizType,
		"stage", stage,
		"template", t.Name(),
		"prompt_length", len(prompt))
	return prompt, nil
}

// BuildInferencePrompt renders the SYSTEM and EXTRACTION templates for the
// task's business type and joins them.
func (m *Manager) BuildInferencePrompt(tc *task.TaskContext, ocrText string) (string, error) {
	bizType := InferBizType(tc)
	data := Data{
		Role:        tc.GetString(KeyRole),
		OCRData:     ocrText,
		TargetField: tc.GetString(KeyTargetField),
	}

	system, err := m.Build(bizType, StageSystem, data)
	if err != nil {
		return "", err
	}
	extraction, err := m.Build(bizType, StageExtraction, data)
	if err != nil {
		return "", err
	}
	return system + "\n\n" + extraction, nil
}

// BuildReflectPrompt renders the REFLECT template used when a response failed
// validation and is being retried.
func (m *Manager) BuildReflectPrompt(
	bizType, originalPrompt, originalContent string,
	validationErrors []string,
	attempt int,
) (string, error) {
	return m.Build(bizType, StageReflect, Data{
		OriginalPrompt:  originalPrompt,
		OriginalContent: originalContent,
		Errors:          validationErrors,
		Attempt:         attempt,
	})
}

func templateName(bizType string, stage Stage) string {
	return strings.ToUpper(bizType) + "_" + string(stage) + ".tmpl"
}

// InferBizType maps a task to the business type whose templates and rules
// apply to it. The task type wins over the link name.
func InferBizType(tc *task.TaskContext) string {
	if tc == nil {
		return BizTypeDefault
	}
	if tc.TaskType != "" {
		bizType := strings.ToUpper(tc.TaskType)
		switch {
		case strings.Contains(bizType, BizTypeGaode) || strings.Contains(bizType, "高德"):
			return BizTypeGaode
		case strings.Contains(bizType, BizTypeXiaola) || strings.Contains(bizType, "小拉"):
			return BizTypeXiaola
		}
		return bizType
	}
	if tc.LinkName != "" {
		link := strings.ToLower(tc.LinkName)
		switch {
		case strings.Contains(link, "gaode") || strings.Contains(link, "高德"):
			return BizTypeGaode
		case strings.Contains(link, "xiaola") || strings.Contains(link, "小拉"):
			return BizTypeXiaola
		}
	}
	return BizTypeDefault
}
