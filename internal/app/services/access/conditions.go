package access

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/access"
)

// Condition types understood by the evaluator. Parameter is a gjson path
// into the caller's evidence document, except for script conditions whose
// Value is a JavaScript expression over the global "evidence".
const (
	ConditionEquals = "equals"
	ConditionOneOf  = "one_of"
	ConditionMin    = "min"
	ConditionMax    = "max"
	ConditionExists = "exists"
	ConditionBefore = "before"
	ConditionAfter  = "after"
	ConditionScript = "script"
)

const (
	maxScriptSize = 4 * 1024
	scriptTimeout = 100 * time.Millisecond
)

// ValidateCondition rejects conditions the evaluator cannot run.
func ValidateCondition(c access.Condition) error {
	switch c.Type {
	case ConditionEquals, ConditionOneOf, ConditionExists:
		if c.Parameter == "" {
			return fmt.Errorf("parameter path required")
		}
	case ConditionMin, ConditionMax:
		if c.Parameter == "" {
			return fmt.Errorf("parameter path required")
		}
		if _, err := strconv.ParseFloat(c.Value, 64); err != nil {
			return fmt.Errorf("value must be numeric: %w", err)
		}
	case ConditionBefore, ConditionAfter:
		if c.Parameter == "" {
			return fmt.Errorf("parameter path required")
		}
		if _, err := time.Parse(time.RFC3339, c.Value); err != nil {
			return fmt.Errorf("value must be an RFC3339 time: %w", err)
		}
	case ConditionScript:
		if len(c.Value) > maxScriptSize {
			return fmt.Errorf("script exceeds %d bytes", maxScriptSize)
		}
		if _, err := goja.Compile("condition", c.Value, true); err != nil {
			return fmt.Errorf("compile script: %w", err)
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// Evaluate reports whether evidence satisfies c. Malformed evidence never
// satisfies a condition.
func Evaluate(c access.Condition, evidence []byte) (bool, error) {
	if c.Type == ConditionScript {
		return evaluateScript(c.Value, evidence)
	}
	if len(evidence) > 0 && !gjson.ValidBytes(evidence) {
		return false, fmt.Errorf("evidence is not valid JSON")
	}
	field := gjson.GetBytes(evidence, c.Parameter)
	switch c.Type {
	case ConditionExists:
		return field.Exists(), nil
	case ConditionEquals:
		return field.Exists() && field.String() == c.Value, nil
	case ConditionOneOf:
		if !field.Exists() {
			return false, nil
		}
		for _, candidate := range strings.Split(c.Value, ",") {
			if strings.TrimSpace(candidate) == field.String() {
				return true, nil
			}
		}
		return false, nil
	case ConditionMin, ConditionMax:
		bound, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false, err
		}
		if !field.Exists() || (field.Type != gjson.Number && field.Type != gjson.String) {
			return false, nil
		}
		n, err := strconv.ParseFloat(field.String(), 64)
		if err != nil {
			return false, nil
		}
		if c.Type == ConditionMin {
			return n >= bound, nil
		}
		return n <= bound, nil
	case ConditionBefore, ConditionAfter:
		bound, err := time.Parse(time.RFC3339, c.Value)
		if err != nil {
			return false, err
		}
		at, err := time.Parse(time.RFC3339, field.String())
		if !field.Exists() || err != nil {
			return false, nil
		}
		if c.Type == ConditionBefore {
			return at.Before(bound), nil
		}
		return at.After(bound), nil
	}
	return false, fmt.Errorf("unknown condition type %q", c.Type)
}

func evaluateScript(script string, evidence []byte) (bool, error) {
	var doc interface{} = map[string]interface{}{}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &doc); err != nil {
			return false, fmt.Errorf("decode evidence: %w", err)
		}
	}

	vm := goja.New()
	timer := time.AfterFunc(scriptTimeout, func() { vm.Interrupt("condition timeout") })
	defer timer.Stop()

	if err := vm.Set("evidence", doc); err != nil {
		return false, fmt.Errorf("set evidence: %w", err)
	}
	result, err := vm.RunString(script)
	if err != nil {
		return false, fmt.Errorf("script error: %w", err)
	}
	return result.ToBoolean(), nil
}
