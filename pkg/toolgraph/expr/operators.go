package expr

import (
	"fmt"
	"reflect"
	"strings"
)

// Compare applies op to left and right.
// It returns false for unknown operators and for operands that cannot be
// compared; it never panics on mismatched types.
func Compare(left, right any, op Operator) bool {
	switch op {
	case OpEq:
		eq, ok := equal(left, right)
		return ok && eq
	case OpNe:
		eq, ok := equal(left, right)
		return ok && !eq
	case OpLt:
		return order(left, right, func(c int) bool { return c < 0 })
	case OpGt:
		return order(left, right, func(c int) bool { return c > 0 })
	case OpLe:
		return order(left, right, func(c int) bool { return c <= 0 })
	case OpGe:
		return order(left, right, func(c int) bool { return c >= 0 })
	case OpContains:
		return contains(left, right)
	}
	return false
}

// order compares numerically, or lexically when both sides are strings.
func order(left, right any, pred func(int) bool) bool {
	if l, r, ok := numericPair(left, right); ok {
		switch {
		case l < r:
			return pred(-1)
		case l > r:
			return pred(1)
		default:
			return pred(0)
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return pred(strings.Compare(ls, rs))
	}
	return false
}

// contains reports list membership, map key presence or substring.
func contains(left, right any) bool {
	if s, ok := left.(string); ok {
		sub, ok := right.(string)
		if !ok {
			if _, isNum := ToFloat64(right); !isNum {
				return false
			}
			sub = fmt.Sprintf("%v", right)
		}
		return strings.Contains(s, sub)
	}
	switch kindOf(left) {
	case kindList:
		rv := reflect.ValueOf(left)
		for i := 0; i < rv.Len(); i++ {
			if eq, _ := equal(rv.Index(i).Interface(), right); eq {
				return true
			}
		}
	case kindMap:
		key, ok := right.(string)
		if !ok {
			return false
		}
		rv := reflect.ValueOf(left)
		if rv.Type().Key().Kind() != reflect.String {
			return false
		}
		return rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).IsValid()
	}
	return false
}
