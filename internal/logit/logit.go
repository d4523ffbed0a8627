// Package logit implements the log-odds transform with optional clipping of
// proportions for finite-sample correction.
package logit

import (
	"errors"
	"fmt"
	"math"

	"github.com/todmy/psychometrics/internal/ndarray"
)

var (
	ErrOutOfRange    = errors.New("logit: proportion outside [0, 1]")
	ErrInvalidEvents = errors.New("logit: max events must be positive")
)

// Value returns ln(p/(1-p)). Exact 0 and 1 map to -Inf and +Inf.
func Value(p float64) (float64, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, p)
	}
	switch p {
	case 0:
		return math.Inf(-1), nil
	case 1:
		return math.Inf(1), nil
	}
	return math.Log(p / (1 - p)), nil
}

// Clip clamps p into [1/(2n), 1-1/(2n)]. For n < 1 the bounds would cross,
// so both collapse to 0.5.
func Clip(p, n float64) float64 {
	lo := math.Min(1/(2*n), 0.5)
	hi := 1 - lo
	return math.Max(lo, math.Min(hi, p))
}

// Clipped returns the logit of p after clipping it for n events
func Clipped(p, n float64) (float64, error) {
	if !(n > 0) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEvents, n)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, p)
	}
	return Value(Clip(p, n))
}

// Transform applies the logit element-wise. When maxEvents is non-nil it is
// broadcast to the shape of prop and every proportion is clipped for its
// event count before the transform.
func Transform(prop, maxEvents *ndarray.Array) (*ndarray.Array, error) {
	out := prop.Clone()
	data := out.Data()

	if maxEvents == nil {
		for i, p := range data {
			v, err := Value(p)
			if err != nil {
				return nil, err
			}
			data[i] = v
		}
		return out, nil
	}

	events, err := maxEvents.BroadcastTo(prop.Shape())
	if err != nil {
		return nil, fmt.Errorf("logit: max events: %w", err)
	}
	n := events.Data()
	for i, p := range data {
		v, err := Clipped(p, n[i])
		if err != nil {
			return nil, err
		}
		data[i] = v
	}
	return out, nil
}
