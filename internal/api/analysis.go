package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/todmy/psychometrics/internal/classify"
	"github.com/todmy/psychometrics/internal/logit"
	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/internal/psychometric"
	"github.com/todmy/psychometrics/internal/reaction"
	"github.com/todmy/psychometrics/internal/sdt"
	"github.com/todmy/psychometrics/pkg/models"
)

const maxBodyBytes = 10 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ClassifyRequest is the body of POST /analyze/classify
type ClassifyRequest struct {
	Presses []float64 `json:"presses"`
	Targets []float64 `json:"targets"`
	Foils   []float64 `json:"foils"`
	TMin    *float64  `json:"tmin"`
	TMax    *float64  `json:"tmax"`
	Trials  bool      `json:"trials"` // Include per-trial outcomes
}

// TrialResponse is one classified onset
type TrialResponse struct {
	Onset    float64 `json:"onset"`
	Kind     string  `json:"kind"`
	Outcome  string  `json:"outcome"`
	Response any     `json:"response"`
	RT       any     `json:"rt"`
}

// ClassifyResponse is the result of POST /analyze/classify
type ClassifyResponse struct {
	Counts models.Counts   `json:"counts"`
	Window models.Window   `json:"window"`
	Trials []TrialResponse `json:"trials,omitempty"`
	Other  []float64       `json:"other,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	window := s.analysis.Config().Window
	if req.TMin != nil {
		window.TMin = *req.TMin
	}
	if req.TMax != nil {
		window.TMax = *req.TMax
	}

	res, err := classify.Classify(req.Presses, req.Targets, req.Foils, window)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	resp := ClassifyResponse{Counts: res.Counts, Window: window}
	if req.Trials {
		resp.Other = res.Other
		resp.Trials = make([]TrialResponse, 0, len(res.Trials))
		for _, tr := range res.Trials {
			resp.Trials = append(resp.Trials, TrialResponse{
				Onset:    tr.Onset,
				Kind:     string(tr.Kind),
				Outcome:  string(tr.Outcome),
				Response: ndarray.EncodeFloat(tr.Response),
				RT:       ndarray.EncodeFloat(tr.RT),
			})
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// DPrimeRequest is the body of POST /analyze/dprime. Counts is a nested list
// whose last axis holds (H, M, F, C), or (correct, incorrect) for 2AFC.
type DPrimeRequest struct {
	Counts     any    `json:"counts"`
	Correction string `json:"correction"`
	TwoAFC     bool   `json:"two_afc"`
}

// ArrayResponse carries an array result with its advisories
type ArrayResponse struct {
	Shape      []int             `json:"shape"`
	Values     any               `json:"values"`
	Advisories []models.Advisory `json:"advisories,omitempty"`
}

func (s *Server) handleDPrime(w http.ResponseWriter, r *http.Request) {
	var req DPrimeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	counts, err := ndarray.FromNested(req.Counts)
	if err != nil {
		s.respondAnalysisError(w, r, fmt.Errorf("counts: %w", err))
		return
	}
	correction := s.analysis.Config().Correction
	if req.Correction != "" {
		if correction, err = sdt.ParseCorrection(req.Correction); err != nil {
			s.respondAnalysisError(w, r, err)
			return
		}
	}

	compute := sdt.DPrime
	if req.TwoAFC {
		compute = sdt.DPrime2AFC
	}
	res, err := compute(counts, correction)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ArrayResponse{
		Shape:      res.DPrime.Shape(),
		Values:     res.DPrime.Nested(),
		Advisories: res.Advisories,
	})
}

// LogitRequest is the body of POST /analyze/logit
type LogitRequest struct {
	Proportion any `json:"proportion"`
	MaxEvents  any `json:"max_events,omitempty"`
}

func (s *Server) handleLogit(w http.ResponseWriter, r *http.Request) {
	var req LogitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	prop, err := ndarray.FromNested(req.Proportion)
	if err != nil {
		s.respondAnalysisError(w, r, fmt.Errorf("proportion: %w", err))
		return
	}
	var events *ndarray.Array
	if req.MaxEvents != nil {
		if events, err = ndarray.FromNested(req.MaxEvents); err != nil {
			s.respondAnalysisError(w, r, fmt.Errorf("max_events: %w", err))
			return
		}
	}

	out, err := logit.Transform(prop, events)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ArrayResponse{Shape: out.Shape(), Values: out.Nested()})
}

// SigmoidRequest is the body of POST /analyze/sigmoid
type SigmoidRequest struct {
	X      []float64            `json:"x"`
	Params models.SigmoidParams `json:"params"`
}

func (s *Server) handleSigmoid(w http.ResponseWriter, r *http.Request) {
	var req SigmoidRequest
	if !decodeBody(w, r, &req) {
		return
	}

	y := ndarray.Vector(psychometric.Sigmoid(req.X, psychometric.FromModel(req.Params)))
	respondJSON(w, http.StatusOK, ArrayResponse{Shape: y.Shape(), Values: y.Nested()})
}

// FitRequest is the body of POST /analyze/fit and POST /sessions/{id}/curves
type FitRequest struct {
	Label         string             `json:"label,omitempty"`
	X             []float64          `json:"x"`
	Y             []float64          `json:"y"`
	Initial       map[string]float64 `json:"initial,omitempty"`
	Fixed         []string           `json:"fixed,omitempty"`
	MaxIterations int                `json:"max_iterations,omitempty"`
}

func (req *FitRequest) options() (*psychometric.FitOptions, error) {
	opts := &psychometric.FitOptions{MaxIterations: req.MaxIterations}
	if len(req.Initial) > 0 {
		opts.Initial = make(map[psychometric.Param]float64, len(req.Initial))
		for name, v := range req.Initial {
			p, err := psychometric.ParseParam(name)
			if err != nil {
				return nil, err
			}
			opts.Initial[p] = v
		}
	}
	fixed, err := psychometric.ParseParams(req.Fixed)
	if err != nil {
		return nil, err
	}
	opts.Fixed = fixed
	return opts, nil
}

// FitResponse is the result of a curve fit
type FitResponse struct {
	Params     models.SigmoidParams `json:"params"`
	Initial    models.SigmoidParams `json:"initial"`
	Free       []string             `json:"free"`
	SSE        float64              `json:"sse"`
	Iterations int                  `json:"iterations"`
	Status     string               `json:"status"`
}

func newFitResponse(res *psychometric.FitResult) FitResponse {
	free := make([]string, len(res.Free))
	for i, p := range res.Free {
		free[i] = p.String()
	}
	return FitResponse{
		Params:     res.Params.Model(),
		Initial:    res.Initial.Model(),
		Free:       free,
		SSE:        res.SSE,
		Iterations: res.Iterations,
		Status:     res.Status,
	}
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opts, err := req.options()
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	res, err := s.analysis.FitCurve(r.Context(), req.X, req.Y, opts)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, newFitResponse(res))
}

// RTChiSquareRequest is the body of POST /analyze/rt-chisq
type RTChiSquareRequest struct {
	Samples     any     `json:"samples"`
	Axis        *int    `json:"axis,omitempty"` // Defaults to the last axis
	Ceiling     float64 `json:"ceiling,omitempty"`
	OutlierMADs float64 `json:"outlier_mads,omitempty"`
}

func (s *Server) handleRTChiSquare(w http.ResponseWriter, r *http.Request) {
	var req RTChiSquareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	samples, err := ndarray.FromNested(req.Samples)
	if err != nil {
		s.respondAnalysisError(w, r, fmt.Errorf("samples: %w", err))
		return
	}
	axis := -1
	if req.Axis != nil {
		axis = *req.Axis
	}
	opts := s.analysis.Config().RT
	if req.Ceiling > 0 {
		opts.Ceiling = req.Ceiling
	}
	if req.OutlierMADs > 0 {
		opts.OutlierMADs = req.OutlierMADs
	}

	res, err := reaction.ChiSquare(samples, axis, opts)
	if err != nil {
		s.respondAnalysisError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ArrayResponse{
		Shape:      res.Peak.Shape(),
		Values:     res.Peak.Nested(),
		Advisories: res.Advisories,
	})
}
