package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/agentrun/internal/task"
)

func TestRuleRegistry_ValidateAll(t *testing.T) {
	t.Parallel()

	reg := NewRuleRegistry()
	reg.Register("json", JSONObjectRule())
	reg.Register("gaode_fields", RequiredFieldsRule("fare", "currency"), "gaode")
	reg.Register("always_fails", RuleFunc(func(context.Context, *task.TaskContext, string) error {
		return errors.New("nope")
	}), "XIAOLA")
	reg.Register("panics", RuleFunc(func(context.Context, *task.TaskContext, string) error {
		panic("bad rule")
	}), "BSAAS")

	assert.Equal(t, []string{"always_fails", "gaode_fields", "json", "panics"}, reg.Names())

	t.Run("only applicable rules run", func(t *testing.T) {
		t.Parallel()

		results := reg.ValidateAll(context.Background(), "GAODE", nil, `{"fare": 23.5}`)
		assert.Equal(t, []RuleResult{
			{RuleName: "gaode_fields", Valid: false, Message: "missing required fields: currency"},
			{RuleName: "json", Valid: true},
		}, results)
	})

	t.Run("panicking rule is a violation", func(t *testing.T) {
		t.Parallel()

		results := reg.ValidateAll(context.Background(), "bsaas", nil, `{}`)
		assert.Len(t, results, 2)
		assert.Equal(t, "panics", results[1].RuleName)
		assert.False(t, results[1].Valid)
		assert.Contains(t, results[1].Message, "bad rule")
	})
}

func TestRuleRegistry_Unregister(t *testing.T) {
	t.Parallel()

	reg := NewRuleRegistry()
	reg.Register("json", JSONObjectRule())
	reg.Unregister("json")
	assert.Empty(t, reg.Names())
	assert.Empty(t, reg.ValidateAll(context.Background(), "GAODE", nil, "not json"))
}

func TestJSONObjectRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		valid   bool
	}{
		{"object", `{"a": 1}`, true},
		{"fenced object", "```json\n{\"a\": 1}\n```", true},
		{"bare fence", "```\n{}\n```", true},
		{"array", `[1, 2]`, false},
		{"null", `null`, false},
		{"prose", `the fare is 23.5`, false},
	}

	rule := JSONObjectRule()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := rule.Validate(context.Background(), nil, tc.content)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errNotJSONObject)
			}
		})
	}
}

func TestRequiredFieldsRule(t *testing.T) {
	t.Parallel()

	rule := RequiredFieldsRule("fare", "currency")

	assert.NoError(t, rule.Validate(context.Background(), nil, `{"fare": 1, "currency": "CNY"}`))
	assert.EqualError(t, rule.Validate(context.Background(), nil, `{"fare": null}`),
		"missing required fields: fare, currency")
	assert.ErrorIs(t, rule.Validate(context.Background(), nil, `oops`), errNotJSONObject)
}

func TestNewDefaultRuleRegistry(t *testing.T) {
	t.Parallel()

	reg := NewDefaultRuleRegistry(map[string][]string{
		"gaode":  {"price"},
		"xiaola": nil,
	})
	assert.Equal(t, []string{"json_object", "required_fields_gaode"}, reg.Names())

	results := reg.ValidateAll(context.Background(), "GAODE", nil, `{"price": null}`)
	assert.Equal(t, []RuleResult{
		{RuleName: "json_object", Valid: true},
		{RuleName: "required_fields_gaode", Valid: false, Message: "missing required fields: price"},
	}, results)

	results = reg.ValidateAll(context.Background(), "XIAOLA", nil, `{"price": null}`)
	assert.Equal(t, []RuleResult{{RuleName: "json_object", Valid: true}}, results)
}
