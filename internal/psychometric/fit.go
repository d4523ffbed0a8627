package psychometric

import (
	"errors"
	"fmt"
	"math"

	"github.com/todmy/psychometrics/internal/ndarray"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// StatusInitialGuess is reported when the starting point is already stationary
const StatusInitialGuess = "converged at initial guess"

const stationaryTol = 1e-12

var (
	ErrTooFewPoints = errors.New("psychometric: fewer data points than free parameters")
	ErrFitFailed    = errors.New("psychometric: fit did not converge")
)

// FitOptions controls the starting point and the free parameter set
type FitOptions struct {
	// Initial overrides the data-derived starting value of a parameter
	Initial map[Param]float64
	// Fixed parameters are held at their initial value
	Fixed []Param
	// MaxIterations bounds the optimizer's major iterations (default 1000)
	MaxIterations int
}

// FitResult holds the fitted curve
type FitResult struct {
	Params     Params
	Initial    Params
	Free       []Param
	SSE        float64 // Sum of squared residuals at Params
	Iterations int
	Status     string
}

// InitialGuess derives a starting point from the data range
func InitialGuess(x, y []float64) Params {
	p := Params{Lower: 0, Upper: 1, Midpoint: 0, Slope: 1}
	if len(x) == 0 {
		return p
	}
	xmin, xmax := floats.Min(x), floats.Max(x)
	p.Lower = floats.Min(y)
	p.Upper = floats.Max(y)
	p.Midpoint = (xmax + xmin) / 2
	if xmax > xmin {
		p.Slope = 8 / (xmax - xmin)
	}
	return p
}

// Fit estimates the sigmoid parameters minimizing the squared error to y.
// It uses Newton's method on the sum of squares with the Gauss-Newton
// approximation 2*J'J of the Hessian.
func Fit(x, y []float64, opts *FitOptions) (*FitResult, error) {
	if opts == nil {
		opts = &FitOptions{}
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("psychometric: x has %d values, y has %d: %w", len(x), len(y), ndarray.ErrShape)
	}
	for i := range x {
		if !finite(x[i]) || !finite(y[i]) {
			return nil, fmt.Errorf("psychometric: data point %d: %w", i, ndarray.ErrNotNumeric)
		}
	}

	guess := InitialGuess(x, y).array()
	for p, v := range opts.Initial {
		if p < 0 || p >= numParams {
			return nil, fmt.Errorf("%w: %d", ErrUnknownParam, int(p))
		}
		if !finite(v) {
			return nil, fmt.Errorf("psychometric: initial %s: %w", p, ndarray.ErrNotNumeric)
		}
		guess[p] = v
	}

	var fixed [numParams]bool
	for _, p := range opts.Fixed {
		if p < 0 || p >= numParams {
			return nil, fmt.Errorf("%w: %d", ErrUnknownParam, int(p))
		}
		fixed[p] = true
	}
	free := make([]Param, 0, numParams)
	for p := Param(0); p < numParams; p++ {
		if !fixed[p] {
			free = append(free, p)
		}
	}

	res := &FitResult{Initial: fromArray(guess), Free: free}
	if len(free) == 0 {
		res.Params = res.Initial
		res.SSE = sse(x, y, res.Params)
		res.Status = "fixed"
		return res, nil
	}
	if len(x) < len(free) {
		return nil, fmt.Errorf("%w: %d points for %d parameters", ErrTooFewPoints, len(x), len(free))
	}

	ls := &leastSquares{x: x, y: y, base: guess, free: free}
	init := make([]float64, len(free))
	for i, p := range free {
		init[i] = guess[p]
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 1000
	}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Relative:   1e-12,
			Iterations: 25,
		},
	}

	problem := ls.problem()
	initSSE := problem.Func(init)
	grad := make([]float64, len(init))
	problem.Grad(grad, init)
	// Flat data at ceiling or chance is already fitted exactly by the guess.
	if finite(initSSE) && floats.Norm(grad, 2) <= stationaryTol*(1+initSSE) {
		res.Params = res.Initial
		res.SSE = initSSE
		res.Status = StatusInitialGuess
		return res, nil
	}

	result, err := optimize.Minimize(problem, init, settings, &optimize.Newton{})
	if result == nil {
		return nil, fmt.Errorf("%w: %v", ErrFitFailed, err)
	}
	// A stalled line search near the optimum still leaves a usable location.
	if err != nil && !usableStop(err) {
		return nil, fmt.Errorf("%w: %v", ErrFitFailed, err)
	}
	if !finite(result.F) {
		return nil, fmt.Errorf("%w: non-finite residual", ErrFitFailed)
	}

	res.Params = fromArray(ls.expand(result.X))
	res.SSE = result.F
	res.Iterations = result.MajorIterations
	res.Status = result.Status.String()
	return res, nil
}

func usableStop(err error) bool {
	return errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

// leastSquares is the sum of squared residuals over the free parameters
type leastSquares struct {
	x, y []float64
	base [numParams]float64
	free []Param
}

func (ls *leastSquares) expand(v []float64) [numParams]float64 {
	full := ls.base
	for i, p := range ls.free {
		full[p] = v[i]
	}
	return full
}

func (ls *leastSquares) problem() optimize.Problem {
	return optimize.Problem{
		Func: func(v []float64) float64 {
			return sse(ls.x, ls.y, fromArray(ls.expand(v)))
		},
		Grad: func(grad, v []float64) {
			r, jac := ls.residuals(v)
			// grad = 2 J'r
			g := mat.NewVecDense(len(grad), grad)
			g.MulVec(jac.T(), r)
			g.ScaleVec(2, g)
		},
		Hess: func(hess *mat.SymDense, v []float64) {
			_, jac := ls.residuals(v)
			hess.SymOuterK(2, jac.T())
		},
	}
}

// residuals returns model-minus-data and the Jacobian of the model with
// respect to the free parameters
func (ls *leastSquares) residuals(v []float64) (*mat.VecDense, *mat.Dense) {
	full := ls.expand(v)
	p := fromArray(full)
	n := len(ls.x)
	r := mat.NewVecDense(n, nil)
	jac := mat.NewDense(n, len(ls.free), nil)
	span := p.Upper - p.Lower

	for i, xi := range ls.x {
		s := logistic(p.Slope * (xi - p.Midpoint))
		r.SetVec(i, p.Lower+span*s-ls.y[i])
		ds := span * s * (1 - s)
		for j, which := range ls.free {
			var d float64
			switch which {
			case Lower:
				d = 1 - s
			case Upper:
				d = s
			case Midpoint:
				d = -p.Slope * ds
			case Slope:
				d = (xi - p.Midpoint) * ds
			}
			jac.Set(i, j, d)
		}
	}
	return r, jac
}

func sse(x, y []float64, p Params) float64 {
	total := 0.0
	for i, xi := range x {
		d := p.At(xi) - y[i]
		total += d * d
	}
	return total
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
