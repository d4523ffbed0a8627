// Package psychometric fits the four-parameter logistic psychometric function
//
//	y = lower + (upper-lower) / (1 + exp(-slope*(x-midpoint)))
//
// by nonlinear least squares, with any subset of the parameters held fixed.
package psychometric

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/todmy/psychometrics/pkg/models"
)

var ErrUnknownParam = errors.New("psychometric: unknown parameter")

// Param names one of the four curve parameters
type Param int

const (
	Lower Param = iota
	Upper
	Midpoint
	Slope
	numParams
)

var paramNames = [numParams]string{"lower", "upper", "midpoint", "slope"}

func (p Param) String() string {
	if p < 0 || p >= numParams {
		return fmt.Sprintf("Param(%d)", int(p))
	}
	return paramNames[p]
}

// ParseParam resolves a parameter name. "midpt" is accepted for midpoint.
func ParseParam(name string) (Param, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lower":
		return Lower, nil
	case "upper":
		return Upper, nil
	case "midpoint", "midpt":
		return Midpoint, nil
	case "slope":
		return Slope, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// ParseParams resolves a list of parameter names
func ParseParams(names []string) ([]Param, error) {
	out := make([]Param, 0, len(names))
	for _, n := range names {
		p, err := ParseParam(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Params are the sigmoid parameters
type Params struct {
	Lower    float64
	Upper    float64
	Midpoint float64
	Slope    float64
}

// At evaluates the curve at x
func (p Params) At(x float64) float64 {
	return p.Lower + (p.Upper-p.Lower)*logistic(p.Slope*(x-p.Midpoint))
}

// Get returns the value of a single parameter
func (p Params) Get(which Param) float64 {
	return p.array()[which]
}

// Model converts to the shared API representation
func (p Params) Model() models.SigmoidParams {
	return models.SigmoidParams{Lower: p.Lower, Upper: p.Upper, Midpoint: p.Midpoint, Slope: p.Slope}
}

// FromModel converts from the shared API representation
func FromModel(m models.SigmoidParams) Params {
	return Params{Lower: m.Lower, Upper: m.Upper, Midpoint: m.Midpoint, Slope: m.Slope}
}

func (p Params) array() [numParams]float64 {
	return [numParams]float64{p.Lower, p.Upper, p.Midpoint, p.Slope}
}

func fromArray(a [numParams]float64) Params {
	return Params{Lower: a[Lower], Upper: a[Upper], Midpoint: a[Midpoint], Slope: a[Slope]}
}

// Sigmoid evaluates the curve at every x
func Sigmoid(x []float64, p Params) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = p.At(v)
	}
	return out
}

// logistic is 1/(1+exp(-z)) without overflow for large |z|
func logistic(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
