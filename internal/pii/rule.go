package pii

// evaluateRule applies op to (actual, expected). in/not_in expect expected
// to be a []any (or []string); gt/lt/gte/lte coerce both sides to float64
// and are false if either side can't be coerced.
func evaluateRule(op Operator, actual, expected any) bool {
	switch op {
	case OpEq:
		return actual == expected
	case OpNe:
		return actual != expected
	case OpIn:
		return memberOf(actual, expected)
	case OpNotIn:
		return !memberOf(actual, expected)
	case OpGt, OpLt, OpGte, OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false
		}
		switch op {
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		case OpGte:
			return a >= b
		case OpLte:
			return a <= b
		}
	}
	return false
}

func memberOf(actual, expected any) bool {
	switch list := expected.(type) {
	case []any:
		for _, v := range list {
			if v == actual {
				return true
			}
		}
	case []string:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		for _, v := range list {
			if v == s {
				return true
			}
		}
	}
	return false
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
