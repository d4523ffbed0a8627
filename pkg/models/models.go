package models

import (
	"time"
)

// Counts is the outcome category vector produced by the event classifier
type Counts struct {
	Hits              int `json:"hits" yaml:"hits"`
	Misses            int `json:"misses" yaml:"misses"`
	FalseAlarms       int `json:"false_alarms" yaml:"false_alarms"`
	CorrectRejections int `json:"correct_rejections" yaml:"correct_rejections"`
	Other             int `json:"other" yaml:"other"`
}

// Tuple returns the counts in (H, M, F, C, O) order
func (c Counts) Tuple() [5]int {
	return [5]int{c.Hits, c.Misses, c.FalseAlarms, c.CorrectRejections, c.Other}
}

// HMFC returns the confusion counts used for d-prime
func (c Counts) HMFC() []float64 {
	return []float64{
		float64(c.Hits),
		float64(c.Misses),
		float64(c.FalseAlarms),
		float64(c.CorrectRejections),
	}
}

// Targets returns the number of target trials behind the counts
func (c Counts) Targets() int {
	return c.Hits + c.Misses
}

// Foils returns the number of foil trials behind the counts
func (c Counts) Foils() int {
	return c.FalseAlarms + c.CorrectRejections
}

// AdvisoryCode identifies a kind of numerical advisory
type AdvisoryCode string

const (
	AdvisoryNonIntegerCount AdvisoryCode = "non_integer_count"
	AdvisoryEmptyCondition  AdvisoryCode = "empty_condition"
	AdvisoryOutlierSample   AdvisoryCode = "outlier_sample"
	AdvisoryFewResponses    AdvisoryCode = "few_responses"
)

// Advisory flags a suspicious but valid input. The computation that raised it
// still returns a well-defined result.
type Advisory struct {
	Code    AdvisoryCode `json:"code"`
	Message string       `json:"message"`
	Count   int          `json:"count,omitempty"` // Number of offending values
}

// Experimenter represents a registered lab member
type Experimenter struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session represents one participant's experiment session
type Session struct {
	ID             string    `json:"id"`
	ExperimenterID string    `json:"experimenter_id"`
	Participant    string    `json:"participant"`
	Label          string    `json:"label"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Window is a response window relative to stimulus onset, in seconds
type Window struct {
	TMin float64 `json:"tmin" yaml:"tmin"`
	TMax float64 `json:"tmax" yaml:"tmax"`
}

// Block holds the raw timing of one block of trials
type Block struct {
	ID      string    `json:"id,omitempty" yaml:"id"`
	Label   string    `json:"label,omitempty" yaml:"label"`
	Presses []float64 `json:"presses" yaml:"presses"`
	Targets []float64 `json:"targets" yaml:"targets"`
	Foils   []float64 `json:"foils" yaml:"foils"`
	Window  *Window   `json:"window,omitempty" yaml:"window"`
}

// SigmoidParams is the 4-parameter psychometric curve
type SigmoidParams struct {
	Lower    float64 `json:"lower" yaml:"lower"`
	Upper    float64 `json:"upper" yaml:"upper"`
	Midpoint float64 `json:"midpoint" yaml:"midpoint"`
	Slope    float64 `json:"slope" yaml:"slope"`
}

// BlockSummary is the analysis of one block of trials
type BlockSummary struct {
	ID             string     `json:"id,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	Label          string     `json:"label,omitempty"`
	Window         Window     `json:"window"`
	Counts         Counts     `json:"counts"`
	DPrime         Float      `json:"dprime"`
	HitRate        Float      `json:"hit_rate"`
	FalseAlarmRate Float      `json:"false_alarm_rate"`
	RTPeak         Float      `json:"rt_peak"`
	HitRTs         []float64  `json:"hit_rts"`
	Advisories     []Advisory `json:"advisories,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

// CurveFit is a stored psychometric curve fit
type CurveFit struct {
	ID        string        `json:"id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Label     string        `json:"label,omitempty"`
	Params    SigmoidParams `json:"params"`
	Fixed     []string      `json:"fixed,omitempty"`
	SSE       float64       `json:"sse"`
	NumPoints int           `json:"num_points"`
	Distance  float64       `json:"distance,omitempty"` // Set by similarity queries
	CreatedAt time.Time     `json:"created_at,omitempty"`
}
