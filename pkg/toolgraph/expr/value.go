package expr

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path against vars.
// Numeric segments index into lists. The second result is false when any
// segment cannot be resolved.
func Lookup(vars map[string]any, path string) (any, bool) {
	if path == "" || vars == nil {
		return nil, false
	}
	var current any = vars
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// step descends one path segment.
func step(current any, seg string) (any, bool) {
	switch c := current.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}

	// Typed maps and slices from callers that skipped normalization.
	rv := reflect.ValueOf(current)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// ToFloat64 converts a numeric value to float64.
// The second result is false for anything that is not a number.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint8:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	return 0, false
}

// numericPair coerces both operands to float64. A numeric string is accepted
// on one side when the other side is already a number.
func numericPair(left, right any) (float64, float64, bool) {
	l, lok := ToFloat64(left)
	r, rok := ToFloat64(right)
	switch {
	case lok && rok:
		return l, r, true
	case lok:
		if s, ok := right.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return l, f, true
			}
		}
	case rok:
		if s, ok := left.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, r, true
			}
		}
	}
	return 0, 0, false
}

// kind groups values into the classes the evaluator can compare.
type kind int

const (
	kindOther kind = iota
	kindNil
	kindNumber
	kindString
	kindBool
	kindList
	kindMap
)

func kindOf(v any) kind {
	if v == nil {
		return kindNil
	}
	if _, ok := ToFloat64(v); ok {
		return kindNumber
	}
	switch v.(type) {
	case string:
		return kindString
	case bool:
		return kindBool
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return kindList
	case reflect.Map:
		return kindMap
	}
	return kindOther
}

// equal compares two values. The second result is false when the values
// belong to kinds that cannot be compared with each other.
func equal(left, right any) (eq, comparable bool) {
	lk, rk := kindOf(left), kindOf(right)
	if lk == kindNil || rk == kindNil {
		return lk == rk, true
	}
	if l, r, ok := numericPair(left, right); ok {
		return l == r, true
	}
	if lk != rk {
		return false, false
	}
	switch lk {
	case kindString:
		return left.(string) == right.(string), true
	case kindBool:
		return left.(bool) == right.(bool), true
	case kindList:
		return listsEqual(reflect.ValueOf(left), reflect.ValueOf(right)), true
	case kindMap:
		return mapsEqual(reflect.ValueOf(left), reflect.ValueOf(right)), true
	}
	return reflect.DeepEqual(left, right), true
}

func listsEqual(l, r reflect.Value) bool {
	if l.Len() != r.Len() {
		return false
	}
	for i := 0; i < l.Len(); i++ {
		if eq, _ := equal(l.Index(i).Interface(), r.Index(i).Interface()); !eq {
			return false
		}
	}
	return true
}

func mapsEqual(l, r reflect.Value) bool {
	if l.Len() != r.Len() {
		return false
	}
	iter := l.MapRange()
	for iter.Next() {
		key := iter.Key()
		if !key.Type().AssignableTo(r.Type().Key()) {
			return false
		}
		rv := r.MapIndex(key)
		if !rv.IsValid() {
			return false
		}
		if eq, _ := equal(iter.Value().Interface(), rv.Interface()); !eq {
			return false
		}
	}
	return true
}

// aggregate applies length, max or min to a value.
func aggregate(fn Func, v any) (any, bool) {
	switch fn {
	case FuncLength:
		if s, ok := v.(string); ok {
			return float64(len([]rune(s))), true
		}
		switch kindOf(v) {
		case kindList, kindMap:
			return float64(reflect.ValueOf(v).Len()), true
		}
		return nil, false
	case FuncMax, FuncMin:
		if kindOf(v) != kindList {
			return nil, false
		}
		rv := reflect.ValueOf(v)
		if rv.Len() == 0 {
			return nil, false
		}
		var best float64
		for i := 0; i < rv.Len(); i++ {
			f, ok := ToFloat64(rv.Index(i).Interface())
			if !ok {
				return nil, false
			}
			if i == 0 || (fn == FuncMax && f > best) || (fn == FuncMin && f < best) {
				best = f
			}
		}
		return best, true
	}
	return v, true
}
