package llm

import (
	"errors"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (jmespathLibEvaluator) Validate(expr string) error {
	if expr == "" {
		return errors.New("empty expression")
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// FieldMapping holds JMESPath expressions that pull Analysis fields out of a model
// response. Models name these fields inconsistently, so each expression may list
// alternatives with "||".
type FieldMapping struct {
	Summary         string
	KeyData         string
	ActionableItems string
	RiskIfIgnored   string
	Status          string
}

// DefaultFieldMapping accepts both the analysis prompt's field names and the names
// stored in job results.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Summary:         "summary",
		KeyData:         "key_data || key_details",
		ActionableItems: "actionable_items || required_actions",
		RiskIfIgnored:   "risk_if_ignored",
		Status:          "status",
	}
}

func (m FieldMapping) withDefaults() FieldMapping {
	d := DefaultFieldMapping()
	if m.Summary == "" {
		m.Summary = d.Summary
	}
	if m.KeyData == "" {
		m.KeyData = d.KeyData
	}
	if m.ActionableItems == "" {
		m.ActionableItems = d.ActionableItems
	}
	if m.RiskIfIgnored == "" {
		m.RiskIfIgnored = d.RiskIfIgnored
	}
	if m.Status == "" {
		m.Status = d.Status
	}
	return m
}

func (m FieldMapping) validate(e JMESPathEvaluator) error {
	for name, expr := range map[string]string{
		"summary":          m.Summary,
		"key_data":         m.KeyData,
		"actionable_items": m.ActionableItems,
		"risk_if_ignored":  m.RiskIfIgnored,
		"status":           m.Status,
	} {
		if err := e.Validate(expr); err != nil {
			return fmt.Errorf("invalid %s mapping %q: %w", name, expr, err)
		}
	}
	return nil
}

// mapString evaluates expr and returns the result when it is a string.
func mapString(e JMESPathEvaluator, expr string, doc any) string {
	v, err := e.Evaluate(expr, doc)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func mapObject(e JMESPathEvaluator, expr string, doc any) map[string]any {
	v, err := e.Evaluate(expr, doc)
	if err != nil {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// mapObjects keeps the object elements of an array result.
func mapObjects(e JMESPathEvaluator, expr string, doc any) []map[string]any {
	v, err := e.Evaluate(expr, doc)
	if err != nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
