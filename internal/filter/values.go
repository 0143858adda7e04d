package filter

import (
	"fmt"
	"reflect"
	"time"

	"sqlprovider/internal/apperr"
)

// listValues flattens any slice or array into []interface{}.
func listValues(field string, op Operator, value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, apperr.Validation("operator %s on %s requires a list value", op, field)
	}
	if values, ok := value.([]interface{}); ok {
		return values, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, apperr.Validation("operator %s on %s requires a list value, got %T", op, field, value)
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, apperr.Validation("operator %s on %s requires a list value, got %T", op, field, value)
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// rangeValues extracts (low, high) from a Range or a two element list and
// checks low <= high.
func rangeValues(field string, op Operator, value interface{}) (interface{}, interface{}, error) {
	var low, high interface{}
	switch v := value.(type) {
	case Range:
		low, high = v.Low, v.High
	case *Range:
		if v == nil {
			return nil, nil, apperr.Validation("operator %s on %s requires a [low, high] pair", op, field)
		}
		low, high = v.Low, v.High
	default:
		values, err := listValues(field, op, value)
		if err != nil {
			return nil, nil, apperr.Validation("operator %s on %s requires a [low, high] pair", op, field)
		}
		if len(values) != 2 {
			return nil, nil, apperr.Validation("operator %s on %s requires exactly 2 values, got %d", op, field, len(values))
		}
		low, high = values[0], values[1]
	}
	if low == nil || high == nil {
		return nil, nil, apperr.Validation("operator %s on %s does not accept null bounds", op, field)
	}
	cmp, err := compareValues(low, high)
	if err != nil {
		return nil, nil, apperr.Validation("operator %s on %s: %v", op, field, err)
	}
	if cmp > 0 {
		return nil, nil, apperr.Validation("operator %s on %s: low bound %v is greater than high bound %v", op, field, low, high)
	}
	return low, high, nil
}

// compareValues orders two bound values of the same family.
func compareValues(a, b interface{}) (int, error) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("bounds %T and %T are not comparable", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("bounds %T and %T are not comparable", a, b)
		}
		return at.Compare(bt), nil
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("bounds %T and %T are not comparable", a, b)
		}
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported bound type %T", a)
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// nullFlag interprets the value of a null / nnull leaf. nil and true mean
// "is null", false means "is not null".
func nullFlag(field string, op Operator, value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return true, nil
	case bool:
		return v, nil
	case string:
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
	}
	return false, apperr.Validation("operator %s on %s expects a boolean value, got %T", op, field, value)
}

// patternValue renders the operand of a pattern operator as a string.
func patternValue(field string, op Operator, value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case nil, bool:
		return "", apperr.Validation("operator %s on %s requires a string value", op, field)
	}
	if _, ok := toFloat(value); ok {
		return fmt.Sprint(value), nil
	}
	return "", apperr.Validation("operator %s on %s requires a string value, got %T", op, field, value)
}
