// Package classify maps button-press timestamps onto trial outcomes.
//
// Every target or foil onset owns the half-open response window
// [onset+TMin, onset+TMax). The first press inside a window claims it: a
// target window becomes a hit, a foil window a false alarm. Later presses in
// an already claimed window are debounced and ignored. Presses outside every
// window are counted as "other". Unclaimed target windows are misses and
// unclaimed foil windows are correct rejections.
package classify

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/todmy/psychometrics/pkg/models"
)

var (
	ErrInvalidWindow    = errors.New("classify: invalid response window")
	ErrInvalidTimestamp = errors.New("classify: non-finite timestamp")
)

// Window is the response window relative to each onset, in seconds
type Window = models.Window

// Kind tells target trials from foil trials
type Kind string

const (
	KindTarget Kind = "target"
	KindFoil   Kind = "foil"
)

// Outcome is the signal detection category of a single trial
type Outcome string

const (
	OutcomeHit              Outcome = "hit"
	OutcomeMiss             Outcome = "miss"
	OutcomeFalseAlarm       Outcome = "false_alarm"
	OutcomeCorrectRejection Outcome = "correct_rejection"
)

// Trial is the classification of one onset
type Trial struct {
	Onset    float64
	Kind     Kind
	Outcome  Outcome
	Response float64 // First claiming press, NaN when unclaimed
	RT       float64 // Response - Onset, NaN when unclaimed
}

// Result holds per-trial outcomes in onset order plus the tallies
type Result struct {
	Counts models.Counts
	Trials []Trial
	Other  []float64 // Presses outside every window, sorted
}

// HitRTs returns the reaction times of all hits in onset order
func (r *Result) HitRTs() []float64 {
	return r.rts(OutcomeHit)
}

// FalseAlarmRTs returns the reaction times of all false alarms in onset order
func (r *Result) FalseAlarmRTs() []float64 {
	return r.rts(OutcomeFalseAlarm)
}

func (r *Result) rts(o Outcome) []float64 {
	out := []float64{}
	for _, tr := range r.Trials {
		if tr.Outcome == o {
			out = append(out, tr.RT)
		}
	}
	return out
}

type window struct {
	start, end float64
	trial      int
}

// Validate checks that w is a usable response window
func Validate(w Window) error {
	if math.IsNaN(w.TMin) || math.IsInf(w.TMin, 0) || math.IsNaN(w.TMax) || math.IsInf(w.TMax, 0) {
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidWindow)
	}
	if w.TMin < 0 {
		return fmt.Errorf("%w: tmin %v is negative", ErrInvalidWindow, w.TMin)
	}
	if w.TMax <= w.TMin {
		return fmt.Errorf("%w: tmax %v must exceed tmin %v", ErrInvalidWindow, w.TMax, w.TMin)
	}
	return nil
}

// Count returns the (hits, misses, false alarms, correct rejections, other)
// tallies for the given presses and onsets
func Count(presses, targets, foils []float64, w Window) (models.Counts, error) {
	res, err := Classify(presses, targets, foils, w)
	if err != nil {
		return models.Counts{}, err
	}
	return res.Counts, nil
}

// Classify assigns every onset an outcome and every press to at most one window
func Classify(presses, targets, foils []float64, w Window) (*Result, error) {
	if err := Validate(w); err != nil {
		return nil, err
	}
	for _, set := range [][]float64{presses, targets, foils} {
		if err := checkFinite(set); err != nil {
			return nil, err
		}
	}

	trials := make([]Trial, 0, len(targets)+len(foils))
	for _, on := range targets {
		trials = append(trials, Trial{Onset: on, Kind: KindTarget})
	}
	for _, on := range foils {
		trials = append(trials, Trial{Onset: on, Kind: KindFoil})
	}
	sort.SliceStable(trials, func(i, j int) bool {
		return trials[i].Onset < trials[j].Onset
	})

	windows := make([]window, len(trials))
	for i, tr := range trials {
		windows[i] = window{start: tr.Onset + w.TMin, end: tr.Onset + w.TMax, trial: i}
		if i == 0 || windows[i-1].end <= windows[i].start {
			continue
		}
		// Windows that touch up to rounding of onset+tmax share the boundary.
		if touching(windows[i-1].end, windows[i].start) {
			windows[i-1].end = windows[i].start
			continue
		}
		return nil, fmt.Errorf("%w: windows of onsets %v and %v overlap",
			ErrInvalidWindow, trials[i-1].Onset, tr.Onset)
	}

	sorted := make([]float64, len(presses))
	copy(sorted, presses)
	sort.Float64s(sorted)

	res := &Result{Trials: trials, Other: []float64{}}
	claimed := make([]bool, len(trials))

	cur := 0
	for _, p := range sorted {
		for cur < len(windows) && windows[cur].end <= p {
			cur++
		}
		if cur == len(windows) || p < windows[cur].start {
			res.Other = append(res.Other, p)
			continue
		}
		idx := windows[cur].trial
		if claimed[idx] {
			continue
		}
		claimed[idx] = true
		trials[idx].Response = p
		trials[idx].RT = p - trials[idx].Onset
	}

	for i := range trials {
		tr := &trials[i]
		switch {
		case tr.Kind == KindTarget && claimed[i]:
			tr.Outcome = OutcomeHit
			res.Counts.Hits++
		case tr.Kind == KindTarget:
			tr.Outcome = OutcomeMiss
			res.Counts.Misses++
		case claimed[i]:
			tr.Outcome = OutcomeFalseAlarm
			res.Counts.FalseAlarms++
		default:
			tr.Outcome = OutcomeCorrectRejection
			res.Counts.CorrectRejections++
		}
		if !claimed[i] {
			tr.Response = math.NaN()
			tr.RT = math.NaN()
		}
	}
	res.Counts.Other = len(res.Other)

	return res, nil
}

func checkFinite(values []float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidTimestamp, v)
		}
	}
	return nil
}

// touchUlps is the rounding slack, in units of the larger magnitude, within
// which a window end and the next start count as equal
const touchUlps = 4

func touching(end, start float64) bool {
	scale := math.Max(math.Abs(end), math.Abs(start))
	return end-start <= touchUlps*epsilon*scale
}

const epsilon = 0x1p-52
