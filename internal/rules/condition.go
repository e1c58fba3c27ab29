package rules

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Operator represents a condition comparison operator
type Operator string

const (
	OpEq       Operator = "eq"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
)

// ValidOperator reports whether op is a supported operator
func ValidOperator(op Operator) bool {
	switch op {
	case OpEq, OpGt, OpLt, OpContains, OpIn:
		return true
	}
	return false
}

// Condition represents a single declarative rule condition evaluated
// against a context map. Conditions are data, not code, so rule sets can
// be serialized, validated, and reloaded without redeploying.
type Condition struct {
	Field    string      `json:"field" yaml:"field" validate:"required"`
	Operator Operator    `json:"operator" yaml:"operator" validate:"required,oneof=eq gt lt contains in"`
	Value    interface{} `json:"value" yaml:"value"`
}

// Outcome represents the internal result of evaluating a condition
type Outcome int

const (
	NotMatched Outcome = iota
	Matched
	EvalError
)

// Result represents a condition evaluation with its failure cause, if any.
// Evaluation errors are folded into "not matched" at the public boundary
// but stay inspectable for tests and diagnostics.
type Result struct {
	Outcome Outcome
	Err     error
}

// Evaluate evaluates the condition against the context. A missing field or
// a value that cannot be coerced for the operator yields EvalError, never
// a panic or a hard failure.
func (c Condition) Evaluate(ctx map[string]interface{}) Result {
	actual, ok := ctx[c.Field]
	if !ok || actual == nil {
		return Result{Outcome: EvalError, Err: fmt.Errorf("field %q not present in context", c.Field)}
	}

	switch c.Operator {
	case OpEq:
		return Result{Outcome: boolOutcome(equals(actual, c.Value))}

	case OpGt, OpLt:
		a, aok := ToFloat(actual)
		e, eok := ToFloat(c.Value)
		if !aok || !eok {
			return Result{Outcome: EvalError, Err: fmt.Errorf("field %q: non-numeric operand for %s", c.Field, c.Operator)}
		}
		if c.Operator == OpGt {
			return Result{Outcome: boolOutcome(a > e)}
		}
		return Result{Outcome: boolOutcome(a < e)}

	case OpContains:
		haystack := strings.ToLower(stringify(actual))
		// A list operand matches when any element is a substring
		if members, err := toSlice(c.Value); err == nil {
			for _, m := range members {
				if strings.Contains(haystack, strings.ToLower(stringify(m))) {
					return Result{Outcome: Matched}
				}
			}
			return Result{Outcome: NotMatched}
		}
		needle := strings.ToLower(stringify(c.Value))
		return Result{Outcome: boolOutcome(strings.Contains(haystack, needle))}

	case OpIn:
		members, err := toSlice(c.Value)
		if err != nil {
			return Result{Outcome: EvalError, Err: fmt.Errorf("field %q: %w", c.Field, err)}
		}
		for _, m := range members {
			if equals(actual, m) {
				return Result{Outcome: Matched}
			}
		}
		return Result{Outcome: NotMatched}

	default:
		return Result{Outcome: EvalError, Err: fmt.Errorf("unsupported operator %q", c.Operator)}
	}
}

// Matches folds evaluation errors into false, preserving the external
// contract that a broken condition simply does not match.
func (c Condition) Matches(ctx map[string]interface{}) bool {
	return c.Evaluate(ctx).Outcome == Matched
}

// All reports whether every condition matches (AND semantics).
// An empty slice matches.
func All(conditions []Condition, ctx map[string]interface{}) bool {
	for _, c := range conditions {
		if !c.Matches(ctx) {
			return false
		}
	}
	return true
}

// Any reports whether at least one condition matches (OR semantics).
// An empty slice matches.
func Any(conditions []Condition, ctx map[string]interface{}) bool {
	if len(conditions) == 0 {
		return true
	}
	for _, c := range conditions {
		if c.Matches(ctx) {
			return true
		}
	}
	return false
}

// equals compares two values, preferring numeric comparison when both
// sides coerce so that YAML/JSON int-vs-float typing does not break
// structural equality.
func equals(actual, expected interface{}) bool {
	if a, aok := ToFloat(actual); aok {
		if e, eok := ToFloat(expected); eok {
			return a == e
		}
	}
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	as, aok := actual.(string)
	es, eok := expected.(string)
	return aok && eok && as == es
}

// ToFloat attempts best-effort numeric coercion of a context value
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		// bools intentionally not coercible
		return 0, false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func boolOutcome(b bool) Outcome {
	if b {
		return Matched
	}
	return NotMatched
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toSlice(v interface{}) ([]interface{}, error) {
	switch s := v.(type) {
	case []interface{}:
		return s, nil
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case []int:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, nil
	default:
		return nil, fmt.Errorf("operator in requires a list value, got %T", v)
	}
}
