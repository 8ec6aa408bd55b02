package security

import (
	"fmt"
	"regexp"
	"strings"
)

// evaluate reports whether a single Condition holds against attrs.
func evaluate(cond Condition, attrs Attrs) (bool, error) {
	actual := attrs.Get(cond.Attribute)

	switch cond.Operator {
	case OpEquals:
		return actual == cond.Value, nil
	case OpNotEquals:
		return actual != cond.Value, nil
	case OpContains:
		return strings.Contains(actual, cond.Value), nil
	case OpNotContains:
		return !strings.Contains(actual, cond.Value), nil
	case OpStartsWith:
		return strings.HasPrefix(actual, cond.Value), nil
	case OpEndsWith:
		return strings.HasSuffix(actual, cond.Value), nil
	case OpMatches:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			return false, fmt.Errorf("compile regex %q: %w", cond.Value, err)
		}
		return re.MatchString(actual), nil
	case OpGreaterThan:
		a, aok := asNumber(actual)
		b, bok := asNumber(cond.Value)
		return aok && bok && a > b, nil
	case OpLessThan:
		a, aok := asNumber(actual)
		b, bok := asNumber(cond.Value)
		return aok && bok && a < b, nil
	case OpIn:
		for _, v := range cond.Values {
			if actual == v {
				return true, nil
			}
		}
		return false, nil
	case OpNotIn:
		for _, v := range cond.Values {
			if actual == v {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", cond.Operator)
	}
}

// matches reports whether every condition in a rule holds (conjunction).
func matches(conditions []Condition, attrs Attrs) (bool, error) {
	for _, c := range conditions {
		ok, err := evaluate(c, attrs)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
