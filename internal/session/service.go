package session

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/todmy/psychometrics/internal/classify"
	"github.com/todmy/psychometrics/internal/ndarray"
	"github.com/todmy/psychometrics/internal/psychometric"
	"github.com/todmy/psychometrics/internal/reaction"
	"github.com/todmy/psychometrics/internal/sdt"
	"github.com/todmy/psychometrics/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds block analysis configuration
type Config struct {
	Window     models.Window
	Correction sdt.Correction
	RT         reaction.Options
	Workers    int // Parallel blocks in AnalyzeBlocks
	MinHitsRT  int // Hits needed before the RT statistic is computed
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Window:     models.Window{TMin: 0.1, TMax: 1.0},
		Correction: sdt.CorrectionClip,
		RT:         reaction.DefaultOptions(),
		Workers:    4,
		MinHitsRT:  2,
	}
}

func (c Config) withDefaults() Config {
	if c.Window == (models.Window{}) {
		c.Window = DefaultConfig().Window
	}
	if c.Correction == "" {
		c.Correction = DefaultConfig().Correction
	}
	if c.Workers <= 0 {
		c.Workers = DefaultConfig().Workers
	}
	if c.MinHitsRT <= 0 {
		c.MinHitsRT = DefaultConfig().MinHitsRT
	}
	return c
}

// Service runs the analysis pipeline over blocks of trials
type Service struct {
	mu     sync.RWMutex
	config Config
	log    *zap.Logger
}

// NewService creates a new session analysis service
func NewService(config Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{config: config.withDefaults(), log: log}
}

// Config returns the configuration currently in effect
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// UpdateConfig replaces the configuration for subsequent analyses
func (s *Service) UpdateConfig(config Config) {
	config = config.withDefaults()
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
	s.log.Info("Analysis configuration updated",
		zap.Float64("tmin", config.Window.TMin),
		zap.Float64("tmax", config.Window.TMax),
		zap.String("correction", string(config.Correction)),
		zap.Int("workers", config.Workers),
	)
}

// AnalyzeBlock classifies the presses of one block and summarizes it: counts,
// d-prime, hit and false alarm rates, and the RT peak of the hits.
func (s *Service) AnalyzeBlock(ctx context.Context, block models.Block) (*models.BlockSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := s.Config()

	window := cfg.Window
	if block.Window != nil {
		window = *block.Window
	}

	res, err := classify.Classify(block.Presses, block.Targets, block.Foils, window)
	if err != nil {
		return nil, fmt.Errorf("block %q: %w", block.Label, err)
	}

	summary := &models.BlockSummary{
		ID:     block.ID,
		Label:  block.Label,
		Window: window,
		Counts: res.Counts,
		HitRTs: res.HitRTs(),
	}

	dprime, advisories, err := sdt.DPrimeCounts(res.Counts, cfg.Correction)
	if err != nil {
		return nil, fmt.Errorf("block %q: %w", block.Label, err)
	}
	summary.DPrime = models.Float(dprime)
	summary.Advisories = append(summary.Advisories, advisories...)

	c := res.Counts
	hr, far, err := sdt.Rates(float64(c.Hits), float64(c.Misses), float64(c.FalseAlarms), float64(c.CorrectRejections), cfg.Correction)
	if err != nil {
		return nil, fmt.Errorf("block %q: %w", block.Label, err)
	}
	summary.HitRate, summary.FalseAlarmRate = models.Float(hr), models.Float(far)

	summary.RTPeak = models.Float(math.NaN())
	if len(summary.HitRTs) >= cfg.MinHitsRT {
		rt, err := reaction.ChiSquare(ndarray.Vector(summary.HitRTs), -1, cfg.RT)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", block.Label, err)
		}
		peak, _ := rt.Peak.Float()
		summary.RTPeak = models.Float(peak)
		summary.Advisories = append(summary.Advisories, rt.Advisories...)
	} else {
		summary.Advisories = append(summary.Advisories, models.Advisory{
			Code:    models.AdvisoryFewResponses,
			Message: fmt.Sprintf("%d hits, at least %d needed for the RT statistic", len(summary.HitRTs), cfg.MinHitsRT),
			Count:   len(summary.HitRTs),
		})
	}

	for _, a := range summary.Advisories {
		s.log.Warn("Analysis advisory",
			zap.String("block", block.Label),
			zap.String("code", string(a.Code)),
			zap.String("message", a.Message),
			zap.Int("count", a.Count),
		)
	}
	s.log.Debug("Block analyzed",
		zap.String("block", block.Label),
		zap.Int("hits", c.Hits),
		zap.Int("misses", c.Misses),
		zap.Int("false_alarms", c.FalseAlarms),
		zap.Int("correct_rejections", c.CorrectRejections),
		zap.Int("other", c.Other),
		zap.Float64("dprime", dprime),
	)

	return summary, nil
}

// AnalyzeBlocks analyzes blocks in parallel. Results keep the input order and
// the first failure cancels the remaining blocks.
func (s *Service) AnalyzeBlocks(ctx context.Context, blocks []models.Block) ([]*models.BlockSummary, error) {
	out := make([]*models.BlockSummary, len(blocks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Config().Workers)
	for i := range blocks {
		g.Go(func() error {
			summary, err := s.AnalyzeBlock(ctx, blocks[i])
			if err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info("Blocks analyzed", zap.Int("count", len(blocks)))
	return out, nil
}

// FitCurve fits a psychometric curve to proportions y at stimulus levels x
func (s *Service) FitCurve(ctx context.Context, x, y []float64, opts *psychometric.FitOptions) (*psychometric.FitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := psychometric.Fit(x, y, opts)
	if err != nil {
		s.log.Warn("Curve fit failed", zap.Int("points", len(x)), zap.Error(err))
		return nil, err
	}

	s.log.Debug("Curve fitted",
		zap.Int("points", len(x)),
		zap.Float64("lower", res.Params.Lower),
		zap.Float64("upper", res.Params.Upper),
		zap.Float64("midpoint", res.Params.Midpoint),
		zap.Float64("slope", res.Params.Slope),
		zap.Float64("sse", res.SSE),
		zap.String("status", res.Status),
	)
	return res, nil
}
