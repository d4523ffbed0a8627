package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/todmy/psychometrics/internal/classify"
	"github.com/todmy/psychometrics/internal/logit"
	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/internal/psychometric"
	"github.com/todmy/psychometrics/internal/reaction"
	"github.com/todmy/psychometrics/internal/sdt"
	"github.com/todmy/psychometrics/pkg/models"
)

// arrayOutput is the JSON shape of array results
type arrayOutput struct {
	Shape      []int             `json:"shape"`
	Values     any               `json:"values"`
	Advisories []models.Advisory `json:"advisories,omitempty"`
}

// parseArray decodes a JSON number or nested list given on the command line
func parseArray(flag, s string) (*ndarray.Array, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("--%s: %w: %v", flag, ndarray.ErrNotNumeric, err)
	}
	arr, err := ndarray.FromNested(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return arr, nil
}

func newClassifyCmd(a *app) *cobra.Command {
	var (
		presses, targets, foils []float64
		tmin, tmax              float64
		trials                  bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify button presses into hits, misses, false alarms and correct rejections",
		Long: `classify assigns each press to the target or foil whose response window
[onset+tmin, onset+tmax) contains it. The first press in a window claims it;
presses outside every window are counted as other.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window := a.analysis.Config().Window
			if cmd.Flags().Changed("tmin") {
				window.TMin = tmin
			}
			if cmd.Flags().Changed("tmax") {
				window.TMax = tmax
			}

			res, err := classify.Classify(presses, targets, foils, window)
			if err != nil {
				return err
			}

			out := map[string]any{"counts": res.Counts, "window": window}
			if trials {
				rows := make([]map[string]any, 0, len(res.Trials))
				for _, tr := range res.Trials {
					rows = append(rows, map[string]any{
						"onset":    tr.Onset,
						"kind":     tr.Kind,
						"outcome":  tr.Outcome,
						"response": ndarray.EncodeFloat(tr.Response),
						"rt":       ndarray.EncodeFloat(tr.RT),
					})
				}
				out["trials"] = rows
				out["other"] = res.Other
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().Float64SliceVar(&presses, "presses", nil, "press timestamps in seconds")
	cmd.Flags().Float64SliceVar(&targets, "targets", nil, "target onsets in seconds")
	cmd.Flags().Float64SliceVar(&foils, "foils", nil, "foil onsets in seconds")
	cmd.Flags().Float64Var(&tmin, "tmin", 0, "window start after onset (default from config)")
	cmd.Flags().Float64Var(&tmax, "tmax", 0, "window end after onset (default from config)")
	cmd.Flags().BoolVar(&trials, "trials", false, "include per-trial outcomes")
	return cmd
}

func newDPrimeCmd(a *app) *cobra.Command {
	var (
		counts     string
		correction string
		twoAFC     bool
	)

	cmd := &cobra.Command{
		Use:   "dprime",
		Short: "Compute d-prime from outcome counts",
		Long: `dprime reads counts as JSON. The last axis holds (hits, misses, false alarms,
correct rejections), or (correct, incorrect) with --2afc. Any leading axes
are batch axes.`,
		Example: `  psychometrics dprime --counts '[20, 5, 4, 21]'
  psychometrics dprime --counts '[[5, 1], [9, 3]]' --2afc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arr, err := parseArray("counts", counts)
			if err != nil {
				return err
			}
			c := a.analysis.Config().Correction
			if correction != "" {
				if c, err = sdt.ParseCorrection(correction); err != nil {
					return err
				}
			}

			compute := sdt.DPrime
			if twoAFC {
				compute = sdt.DPrime2AFC
			}
			res, err := compute(arr, c)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), arrayOutput{
				Shape:      res.DPrime.Shape(),
				Values:     res.DPrime.Nested(),
				Advisories: res.Advisories,
			})
		},
	}

	cmd.Flags().StringVar(&counts, "counts", "", "counts as a JSON list (required)")
	cmd.Flags().StringVar(&correction, "correction", "", "rate correction: clip, loglinear or none (default from config)")
	cmd.Flags().BoolVar(&twoAFC, "2afc", false, "counts are (correct, incorrect) pairs")
	cmd.MarkFlagRequired("counts")
	return cmd
}

func newLogitCmd(a *app) *cobra.Command {
	var proportion, maxEvents string

	cmd := &cobra.Command{
		Use:   "logit",
		Short: "Log-odds transform of proportions",
		Long: `logit computes ln(p/(1-p)) element-wise. With --max-events each proportion
is first clipped into [1/(2n), 1-1/(2n)], which keeps 0 and 1 finite.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prop, err := parseArray("proportion", proportion)
			if err != nil {
				return err
			}
			var events *ndarray.Array
			if maxEvents != "" {
				if events, err = parseArray("max-events", maxEvents); err != nil {
					return err
				}
			}

			out, err := logit.Transform(prop, events)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), arrayOutput{Shape: out.Shape(), Values: out.Nested()})
		},
	}

	cmd.Flags().StringVar(&proportion, "proportion", "", "proportions as JSON (required)")
	cmd.Flags().StringVar(&maxEvents, "max-events", "", "event counts as JSON, broadcast against the proportions")
	cmd.MarkFlagRequired("proportion")
	return cmd
}

func newSigmoidCmd(a *app) *cobra.Command {
	var (
		x      []float64
		params models.SigmoidParams
	)

	cmd := &cobra.Command{
		Use:   "sigmoid",
		Short: "Evaluate the 4-parameter logistic curve",
		Long:  `sigmoid prints lower + (upper-lower)/(1+exp(-slope*(x-midpoint))) at every x.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			y := ndarray.Vector(psychometric.Sigmoid(x, psychometric.FromModel(params)))
			return writeJSON(cmd.OutOrStdout(), arrayOutput{Shape: y.Shape(), Values: y.Nested()})
		},
	}

	cmd.Flags().Float64SliceVar(&x, "x", nil, "stimulus levels")
	cmd.Flags().Float64Var(&params.Lower, "lower", 0, "lower asymptote")
	cmd.Flags().Float64Var(&params.Upper, "upper", 1, "upper asymptote")
	cmd.Flags().Float64Var(&params.Midpoint, "midpoint", 0, "x at the curve's midpoint")
	cmd.Flags().Float64Var(&params.Slope, "slope", 1, "slope")
	return cmd
}

func newFitCmd(a *app) *cobra.Command {
	var (
		x, y          []float64
		initial       map[string]string
		fixed         []string
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a psychometric curve by least squares",
		Long: `fit estimates lower, upper, midpoint and slope of the logistic curve.
Parameters named in --fixed are held at their starting value, which comes
from --initial or from the data range.`,
		Example: `  psychometrics fit --x 1,2,3,4,5,6 --y .5,.55,.7,.85,.95,.98 --initial lower=0.5 --fixed lower`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &psychometric.FitOptions{MaxIterations: maxIterations}
			if len(initial) > 0 {
				opts.Initial = make(map[psychometric.Param]float64, len(initial))
				for name, raw := range initial {
					p, err := psychometric.ParseParam(name)
					if err != nil {
						return err
					}
					v, err := strconv.ParseFloat(raw, 64)
					if err != nil {
						return fmt.Errorf("--initial %s: %w", name, ndarray.ErrNotNumeric)
					}
					opts.Initial[p] = v
				}
			}
			fixedParams, err := psychometric.ParseParams(fixed)
			if err != nil {
				return err
			}
			opts.Fixed = fixedParams

			res, err := a.analysis.FitCurve(cmd.Context(), x, y, opts)
			if err != nil {
				return err
			}

			free := make([]string, len(res.Free))
			for i, p := range res.Free {
				free[i] = p.String()
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"params":     res.Params.Model(),
				"initial":    res.Initial.Model(),
				"free":       free,
				"sse":        res.SSE,
				"iterations": res.Iterations,
				"status":     res.Status,
			})
		},
	}

	cmd.Flags().Float64SliceVar(&x, "x", nil, "stimulus levels")
	cmd.Flags().Float64SliceVar(&y, "y", nil, "observed proportions")
	cmd.Flags().StringToStringVar(&initial, "initial", nil, "starting values, e.g. lower=0.5,slope=2")
	cmd.Flags().StringSliceVar(&fixed, "fixed", nil, "parameters held constant")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "optimizer iteration limit")
	return cmd
}

func newRTChiSquareCmd(a *app) *cobra.Command {
	var (
		samples string
		axis    int
		opts    reaction.Options
	)

	cmd := &cobra.Command{
		Use:   "rtchisq",
		Short: "Peak of a scaled chi-square fit to reaction times",
		Long: `rtchisq fits a scaled chi-square distribution to the reaction times along
--axis and prints the mode of each fit. Samples must be non-negative seconds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arr, err := parseArray("samples", samples)
			if err != nil {
				return err
			}
			o := a.analysis.Config().RT
			if cmd.Flags().Changed("ceiling") {
				o.Ceiling = opts.Ceiling
			}
			if cmd.Flags().Changed("outlier-mads") {
				o.OutlierMADs = opts.OutlierMADs
			}

			res, err := reaction.ChiSquare(arr, axis, o)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), arrayOutput{
				Shape:      res.Peak.Shape(),
				Values:     res.Peak.Nested(),
				Advisories: res.Advisories,
			})
		},
	}

	cmd.Flags().StringVar(&samples, "samples", "", "reaction times as JSON (required)")
	cmd.Flags().IntVar(&axis, "axis", -1, "axis holding the samples")
	cmd.Flags().Float64Var(&opts.Ceiling, "ceiling", 0, "flag samples above this many seconds")
	cmd.Flags().Float64Var(&opts.OutlierMADs, "outlier-mads", 0, "flag samples this many scaled MADs above the median")
	cmd.MarkFlagRequired("samples")
	return cmd
}
