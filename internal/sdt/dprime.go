// Package sdt computes signal detection sensitivity (d-prime) from confusion
// counts, batched over any number of leading axes.
package sdt

import (
	"errors"
	"fmt"
	"math"

	"github.com/todmy/psychometrics/internal/logit"
	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/pkg/models"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrNegativeCount     = errors.New("sdt: counts must be non-negative")
	ErrUnknownCorrection = errors.New("sdt: unknown correction")
)

// Correction selects how rates of exactly 0 or 1 are handled
type Correction string

const (
	// CorrectionClip clips each rate to [1/(2n), 1-1/(2n)] for its n trials
	CorrectionClip Correction = "clip"
	// CorrectionLogLinear adds 0.5 to every cell before computing rates
	CorrectionLogLinear Correction = "loglinear"
	// CorrectionNone uses raw rates; exact 0 or 1 give infinite d-prime
	CorrectionNone Correction = "none"
)

// ParseCorrection resolves a correction name. The empty string selects the default.
func ParseCorrection(s string) (Correction, error) {
	switch c := Correction(s); c {
	case "":
		return CorrectionClip, nil
	case CorrectionClip, CorrectionLogLinear, CorrectionNone:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCorrection, s)
}

// Result holds one d-prime per batch element
type Result struct {
	DPrime     *ndarray.Array
	Advisories []models.Advisory
}

// DPrime computes d-prime along the last axis of counts, which must have
// length 4: (hits, misses, false alarms, correct rejections).
func DPrime(counts *ndarray.Array, c Correction) (*Result, error) {
	return dprime(counts, c, 4, func(lane []float64) [4]float64 {
		return [4]float64{lane[0], lane[1], lane[2], lane[3]}
	})
}

// DPrime2AFC computes d-prime for two-alternative forced choice data. The
// last axis must have length 2: (correct, incorrect). Each pair is scored as
// (correct, 0, incorrect, 0).
func DPrime2AFC(counts *ndarray.Array, c Correction) (*Result, error) {
	return dprime(counts, c, 2, func(lane []float64) [4]float64 {
		return [4]float64{lane[0], 0, lane[1], 0}
	})
}

// DPrimeMatrix computes d-prime for every row of m
func DPrimeMatrix(m mat.Matrix, c Correction) (*Result, error) {
	return DPrime(ndarray.FromMatrix(m), c)
}

// DPrimeCounts computes d-prime for classifier output
func DPrimeCounts(counts models.Counts, c Correction) (float64, []models.Advisory, error) {
	res, err := DPrime(ndarray.Vector(counts.HMFC()), c)
	if err != nil {
		return 0, nil, err
	}
	v, _ := res.DPrime.Float()
	return v, res.Advisories, nil
}

// Rates returns the corrected hit and false alarm rates
func Rates(hits, misses, falseAlarms, correctRejections float64, c Correction) (float64, float64, error) {
	if _, err := ParseCorrection(string(c)); err != nil {
		return 0, 0, err
	}
	if err := checkCounts([]float64{hits, misses, falseAlarms, correctRejections}); err != nil {
		return 0, 0, err
	}
	return rate(hits, misses, c), rate(falseAlarms, correctRejections, c), nil
}

func dprime(counts *ndarray.Array, c Correction, width int, expand func([]float64) [4]float64) (*Result, error) {
	c, err := ParseCorrection(string(c))
	if err != nil {
		return nil, err
	}
	if counts.NDim() == 0 {
		return nil, fmt.Errorf("%w: counts must have a trailing axis of length %d", ndarray.ErrShape, width)
	}
	if last, _ := counts.Dim(-1); last != width {
		return nil, fmt.Errorf("%w: last axis has length %d, expected %d", ndarray.ErrShape, last, width)
	}
	if err := checkCounts(counts.Data()); err != nil {
		return nil, err
	}

	res := &Result{}
	if n := countNonInteger(counts.Data()); n > 0 {
		res.Advisories = append(res.Advisories, models.Advisory{
			Code:    models.AdvisoryNonIntegerCount,
			Message: "counts should be whole numbers; proportions may have been passed where counts were expected",
			Count:   n,
		})
	}

	empty := 0
	res.DPrime, err = counts.Reduce(-1, func(lane []float64) (float64, error) {
		hmfc := expand(lane)
		hr := rate(hmfc[0], hmfc[1], c)
		far := rate(hmfc[2], hmfc[3], c)
		if math.IsNaN(hr) || math.IsNaN(far) {
			empty++
			return math.NaN(), nil
		}
		return quantile(hr) - quantile(far), nil
	})
	if err != nil {
		return nil, err
	}

	if empty > 0 {
		res.Advisories = append(res.Advisories, models.Advisory{
			Code:    models.AdvisoryEmptyCondition,
			Message: "a condition has no trials, d-prime is undefined",
			Count:   empty,
		})
	}
	return res, nil
}

// rate returns a/(a+b) under correction c. An empty condition is
// uninformative (0.5) when a correction applies and NaN otherwise.
func rate(a, b float64, c Correction) float64 {
	n := a + b
	switch c {
	case CorrectionLogLinear:
		return (a + 0.5) / (n + 1)
	case CorrectionNone:
		if n == 0 {
			return math.NaN()
		}
		return a / n
	default:
		if n == 0 {
			return 0.5
		}
		return logit.Clip(a/n, n)
	}
}

func quantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

func checkCounts(values []float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: count %v", ndarray.ErrNotNumeric, v)
		}
		if v < 0 {
			return fmt.Errorf("%w: %v", ErrNegativeCount, v)
		}
	}
	return nil
}

func countNonInteger(values []float64) int {
	n := 0
	for _, v := range values {
		if v != math.Trunc(v) {
			n++
		}
	}
	return n
}
