package rpc

import "math"

// Index walks nested arrays by position. Every level must be a []any
// long enough for the next offset, otherwise ok is false.
func Index(v any, path ...int) (any, bool) {
	cur := v
	for _, i := range path {
		arr, ok := cur.([]any)
		if !ok || i < 0 || i >= len(arr) {
			return nil, false
		}
		cur = arr[i]
	}
	return cur, true
}

// ListAt is Index for a nested array
func ListAt(v any, path ...int) ([]any, bool) {
	x, ok := Index(v, path...)
	if !ok {
		return nil, false
	}
	arr, ok := x.([]any)
	return arr, ok
}

// StringAt is Index for a nested string
func StringAt(v any, path ...int) (string, bool) {
	x, ok := Index(v, path...)
	if !ok {
		return "", false
	}
	s, ok := x.(string)
	return s, ok
}

// AsInt accepts JSON numbers that hold an integral value
func AsInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
