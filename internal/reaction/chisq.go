// Package reaction summarizes reaction-time samples by the peak of a scaled
// chi-square density fitted by maximum likelihood.
package reaction

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/pkg/models"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrNegativeSample = errors.New("reaction: reaction times must be non-negative")

const (
	// madScale makes the median absolute deviation consistent with the
	// standard deviation of normally distributed data
	madScale = 1.4826

	// minOutlierSamples is the smallest lane the MAD outlier rule applies to
	minOutlierSamples = 5

	maxNewtonIterations = 100
)

// Options controls the outlier advisory
type Options struct {
	// Ceiling flags any sample above it, in seconds. Values this large usually
	// mean milliseconds were passed where seconds were expected.
	Ceiling float64
	// OutlierMADs flags samples more than this many scaled MADs above the median
	OutlierMADs float64
}

// DefaultOptions returns the default outlier thresholds
func DefaultOptions() Options {
	return Options{
		Ceiling:     25,
		OutlierMADs: 10,
	}
}

func (o Options) withDefaults() Options {
	if o.Ceiling <= 0 {
		o.Ceiling = DefaultOptions().Ceiling
	}
	if o.OutlierMADs <= 0 {
		o.OutlierMADs = DefaultOptions().OutlierMADs
	}
	return o
}

// Fit is the maximum likelihood scaled chi-square fit of one lane
type Fit struct {
	N     int
	DF    float64 // Degrees of freedom
	Scale float64
	Peak  float64 // Mode of the fitted density
}

// Result holds one peak per lane
type Result struct {
	Peak       *ndarray.Array
	Advisories []models.Advisory
}

// ChiSquare fits every lane along axis and returns the peaks. The result has
// the shape of samples with axis removed.
func ChiSquare(samples *ndarray.Array, axis int, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	for _, v := range samples.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("reaction: sample %v: %w", v, ndarray.ErrNotNumeric)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: %v", ErrNegativeSample, v)
		}
	}

	outliers, empty := 0, 0
	peaks, err := samples.Reduce(axis, func(lane []float64) (float64, error) {
		if len(lane) == 0 {
			empty++
			return math.NaN(), nil
		}
		outliers += countOutliers(lane, opts)
		f, err := FitLane(lane)
		if err != nil {
			return 0, err
		}
		return f.Peak, nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Peak: peaks}
	if outliers > 0 {
		res.Advisories = append(res.Advisories, models.Advisory{
			Code:    models.AdvisoryOutlierSample,
			Message: "reaction times contain implausibly large values, check units and response coding",
			Count:   outliers,
		})
	}
	if empty > 0 {
		res.Advisories = append(res.Advisories, models.Advisory{
			Code:    models.AdvisoryEmptyCondition,
			Message: "no reaction times along the reduced axis",
			Count:   empty,
		})
	}
	return res, nil
}

// FitLane fits a scaled chi-square distribution with location 0 to samples
func FitLane(samples []float64) (Fit, error) {
	f := Fit{N: len(samples)}
	if len(samples) == 0 {
		f.DF, f.Scale, f.Peak = math.NaN(), math.NaN(), math.NaN()
		return f, nil
	}

	var sum, sumLog float64
	for _, v := range samples {
		if v < 0 {
			return f, fmt.Errorf("%w: %v", ErrNegativeSample, v)
		}
		sum += v
		sumLog += math.Log(v)
	}
	n := float64(len(samples))
	mean := sum / n

	if mean == 0 || math.IsInf(sumLog, -1) {
		// A zero sample drives the shape to 0: all density mass at the origin.
		f.DF, f.Scale, f.Peak = 0, math.Inf(1), 0
		return f, nil
	}

	s := math.Log(mean) - sumLog/n
	if s <= 1e-12 {
		// Identical samples: the fitted density collapses onto the mean.
		f.DF, f.Scale, f.Peak = math.Inf(1), 0, mean
		return f, nil
	}

	alpha := gammaShape(s)
	f.DF = 2 * alpha
	f.Scale = mean / (2 * alpha)
	f.Peak = distuv.ChiSquared{K: f.DF}.Mode() * f.Scale
	return f, nil
}

// gammaShape solves ln(a) - digamma(a) = s for the gamma shape a by Newton's
// method, starting from Minka's closed-form approximation
func gammaShape(s float64) float64 {
	a := (3 - s + math.Sqrt((s-3)*(s-3)+24*s)) / (12 * s)
	for i := 0; i < maxNewtonIterations; i++ {
		g := math.Log(a) - mathext.Digamma(a) - s
		dg := 1/a - trigamma(a)
		if dg == 0 || math.IsNaN(dg) {
			break
		}
		next := a - g/dg
		if next <= 0 {
			next = a / 2
		}
		if math.Abs(next-a) <= 1e-12*a {
			return next
		}
		a = next
	}
	return a
}

func trigamma(a float64) float64 {
	return fd.Derivative(mathext.Digamma, a, &fd.Settings{
		Formula: fd.Central,
		Step:    1e-5 * a,
	})
}

func countOutliers(lane []float64, opts Options) int {
	sorted := make([]float64, len(lane))
	copy(sorted, lane)
	sort.Float64s(sorted)

	limit := opts.Ceiling
	if len(sorted) >= minOutlierSamples {
		med := stat.Quantile(0.5, stat.LinInterp, sorted, nil)
		dev := make([]float64, len(sorted))
		for i, v := range sorted {
			dev[i] = math.Abs(v - med)
		}
		sort.Float64s(dev)
		mad := madScale * stat.Quantile(0.5, stat.LinInterp, dev, nil)
		if mad > 0 {
			limit = math.Min(limit, med+opts.OutlierMADs*mad)
		}
	}

	n := 0
	for _, v := range sorted {
		if v > limit {
			n++
		}
	}
	return n
}
