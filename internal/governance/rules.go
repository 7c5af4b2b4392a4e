package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/phrazzld/agentrun/internal/task"
)

// Rule checks model output against one business constraint. A non-nil error
// means the content violates the rule; its message is shown to the model
// during self-correction.
type Rule interface {
	Validate(ctx context.Context, tc *task.TaskContext, content string) error
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(ctx context.Context, tc *task.TaskContext, content string) error

// Validate calls f.
func (f RuleFunc) Validate(ctx context.Context, tc *task.TaskContext, content string) error {
	return f(ctx, tc, content)
}

// RuleResult is the outcome of one rule.
type RuleResult struct {
	RuleName string
	Valid    bool
	Message  string
}

type registeredRule struct {
	rule     Rule
	bizTypes []string
}

// RuleRegistry holds named rules. It is safe for concurrent use.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[string]registeredRule
}

// NewRuleRegistry creates an empty registry.
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{rules: make(map[string]registeredRule)}
}

// Register adds or replaces a rule. With no bizTypes the rule applies to every
// business type.
func (r *RuleRegistry) Register(name string, rule Rule, bizTypes ...string) {
	upper := make([]string, 0, len(bizTypes))
	for _, b := range bizTypes {
		upper = append(upper, strings.ToUpper(b))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[name] = registeredRule{rule: rule, bizTypes: upper}
}

// Unregister removes a rule.
func (r *RuleRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, name)
}

// Names returns the registered rule names in sorted order.
func (r *RuleRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateAll runs every rule that applies to bizType, in name order. A
// panicking rule counts as a violation.
func (r *RuleRegistry) ValidateAll(ctx context.Context, bizType string, tc *task.TaskContext, content string) []RuleResult {
	r.mu.RLock()
	names := make([]string, 0, len(r.rules))
	for name, reg := range r.rules {
		if len(reg.bizTypes) == 0 || slices.Contains(reg.bizTypes, strings.ToUpper(bizType)) {
			names = append(names, name)
		}
	}
	rules := make(map[string]Rule, len(names))
	for _, name := range names {
		rules[name] = r.rules[name].rule
	}
	r.mu.RUnlock()

	slices.Sort(names)
	results := make([]RuleResult, 0, len(names))
	for _, name := range names {
		err := runRule(ctx, rules[name], tc, content)
		res := RuleResult{RuleName: name, Valid: err == nil}
		if err != nil {
			res.Message = err.Error()
		}
		results = append(results, res)
	}
	return results
}

func runRule(ctx context.Context, rule Rule, tc *task.TaskContext, content string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Validate(ctx, tc, content)
}

var errNotJSONObject = errors.New("content is not a JSON object")

// NewDefaultRuleRegistry registers json_object for every business type and a
// required_fields rule for each business type in requiredFields.
func NewDefaultRuleRegistry(requiredFields map[string][]string) *RuleRegistry {
	r := NewRuleRegistry()
	r.Register("json_object", JSONObjectRule())
	for bizType, fields := range requiredFields {
		if len(fields) == 0 {
			continue
		}
		r.Register("required_fields_"+strings.ToLower(bizType), RequiredFieldsRule(fields...), bizType)
	}
	return r
}

// JSONObjectRule requires the content to be a JSON object. Markdown code
// fences around the object are tolerated.
func JSONObjectRule() Rule {
	return RuleFunc(func(_ context.Context, _ *task.TaskContext, content string) error {
		_, err := decodeObject(content)
		return err
	})
}

// RequiredFieldsRule requires the content to be a JSON object whose listed
// fields are present and not null.
func RequiredFieldsRule(fields ...string) Rule {
	return RuleFunc(func(_ context.Context, _ *task.TaskContext, content string) error {
		obj, err := decodeObject(content)
		if err != nil {
			return err
		}
		var missing []string
		for _, f := range fields {
			if v, ok := obj[f]; !ok || v == nil {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

func decodeObject(content string) (map[string]any, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil || obj == nil {
		return nil, errNotJSONObject
	}
	return obj, nil
}
