package ndarray

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FromNested builds an array from nested slices as produced by decoding JSON
// or YAML into an interface value. Scalars become zero-dimensional arrays.
// Every leaf must be numeric and sibling lists must have equal lengths.
func FromNested(v any) (*Array, error) {
	shape, err := nestedShape(v)
	if err != nil {
		return nil, err
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float64, 0, size)
	data, err = flatten(v, shape, data)
	if err != nil {
		return nil, err
	}
	return &Array{shape: shape, data: data}, nil
}

func nestedShape(v any) ([]int, error) {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return []int{0}, nil
		}
		inner, err := nestedShape(t[0])
		if err != nil {
			return nil, err
		}
		return append([]int{len(t)}, inner...), nil
	case []float64:
		return []int{len(t)}, nil
	default:
		if _, err := leafValue(v); err != nil {
			return nil, err
		}
		return []int{}, nil
	}
}

func flatten(v any, shape []int, data []float64) ([]float64, error) {
	if len(shape) == 0 {
		f, err := leafValue(v)
		if err != nil {
			return nil, err
		}
		return append(data, f), nil
	}

	switch t := v.(type) {
	case []float64:
		if len(shape) != 1 || len(t) != shape[0] {
			return nil, fmt.Errorf("%w: ragged nested list", ErrShape)
		}
		return append(data, t...), nil
	case []any:
		if len(t) != shape[0] {
			return nil, fmt.Errorf("%w: ragged nested list", ErrShape)
		}
		var err error
		for _, item := range t {
			data, err = flatten(item, shape[1:], data)
			if err != nil {
				return nil, err
			}
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: ragged nested list", ErrShape)
	}
}

func leafValue(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, t.String())
		}
		return f, nil
	case string:
		// Accept the spellings produced by EncodeFloat.
		switch strings.ToLower(t) {
		case "inf", "+inf", "infinity":
			return math.Inf(1), nil
		case "-inf", "-infinity":
			return math.Inf(-1), nil
		case "nan":
			return math.NaN(), nil
		}
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, t)
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}
