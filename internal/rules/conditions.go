package rules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

// resolvePath walks a dotted field path through the context field tree.
// Each segment must name a key of a nested map.
func resolvePath(tree map[string]any, path string) (any, error) {
	var current any = tree
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q is not a nested field", segment)
		}
		current, ok = node[segment]
		if !ok {
			return nil, fmt.Errorf("field %q not found", segment)
		}
	}
	return current, nil
}

// evalCondition applies one custom condition against the field tree.
// An unresolvable path or an operator/value type mismatch is an error,
// which the caller reports as the failing condition.
func evalCondition(tree map[string]any, cond domain.CustomCondition) (bool, error) {
	actual, err := resolvePath(tree, cond.Field)
	if err != nil {
		return false, err
	}

	switch cond.Operator {
	case domain.OpEquals:
		return valuesEqual(actual, cond.Value), nil

	case domain.OpGreaterThan:
		a, b, err := numericPair(actual, cond.Value)
		if err != nil {
			return false, err
		}
		return a > b, nil

	case domain.OpLessThan:
		a, b, err := numericPair(actual, cond.Value)
		if err != nil {
			return false, err
		}
		return a < b, nil

	case domain.OpContains:
		return evalContains(actual, cond.Value)

	case domain.OpBetween:
		bounds, ok := cond.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false, fmt.Errorf("between requires a two-element bounds array")
		}
		a, ok := toFloat(actual)
		if !ok {
			return false, fmt.Errorf("field value %v is not numeric", actual)
		}
		lo, okLo := toFloat(bounds[0])
		hi, okHi := toFloat(bounds[1])
		if !okLo || !okHi {
			return false, fmt.Errorf("between bounds %v are not numeric", bounds)
		}
		return a >= lo && a <= hi, nil

	default:
		return false, fmt.Errorf("unsupported operator %q", cond.Operator)
	}
}

func evalContains(actual, value any) (bool, error) {
	switch v := actual.(type) {
	case string:
		s, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string field requires a string value")
		}
		return strings.Contains(v, s), nil
	case []any:
		for _, elem := range v {
			if valuesEqual(elem, value) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains requires a string or list field, got %T", actual)
	}
}

// valuesEqual compares with numeric coercion so JSON-decoded numbers
// match integer-typed context fields.
func valuesEqual(a, b any) bool {
	af, aOK := toFloat(a)
	bf, bOK := toFloat(b)
	if aOK && bOK {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func numericPair(a, b any) (float64, float64, error) {
	af, ok := toFloat(a)
	if !ok {
		return 0, 0, fmt.Errorf("field value %v is not numeric", a)
	}
	bf, ok := toFloat(b)
	if !ok {
		return 0, 0, fmt.Errorf("comparison value %v is not numeric", b)
	}
	return af, bf, nil
}

func toFloat(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
