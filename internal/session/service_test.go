package session

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todmy/psychometrics/internal/classify"
	"github.com/todmy/psychometrics/internal/psychometric"
	"github.com/todmy/psychometrics/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleBlock() models.Block {
	return models.Block{
		Label:   "block-1",
		Presses: []float64{0.35, 1.2, 2.42, 4.31, 6.5, 9.9},
		Targets: []float64{0, 2, 4, 6},
		Foils:   []float64{1, 3, 5, 7},
		Window:  &models.Window{TMin: 0.1, TMax: 0.8},
	}
}

func TestAnalyzeBlock(t *testing.T) {
	svc := NewService(DefaultConfig(), zap.NewNop())

	summary, err := svc.AnalyzeBlock(context.Background(), sampleBlock())
	require.NoError(t, err)

	assert.Equal(t, models.Counts{Hits: 4, Misses: 0, FalseAlarms: 1, CorrectRejections: 3, Other: 1}, summary.Counts)
	assert.Len(t, summary.HitRTs, 4)
	assert.InDelta(t, 0.875, float64(summary.HitRate), 1e-12, "4/4 clipped for 4 trials")
	assert.InDelta(t, 0.25, float64(summary.FalseAlarmRate), 1e-12)
	assert.Greater(t, float64(summary.DPrime), 0.0)
	assert.False(t, math.IsNaN(float64(summary.RTPeak)))
	assert.Empty(t, summary.Advisories)
}

func TestAnalyzeBlockUsesConfiguredWindow(t *testing.T) {
	svc := NewService(Config{Window: models.Window{TMin: 0, TMax: 0.5}}, nil)

	block := models.Block{
		Presses: []float64{0.1, 1.2, 1.3, 2.1, 2.7, 5},
		Targets: []float64{0, 2, 3},
		Foils:   []float64{1, 4},
	}
	summary, err := svc.AnalyzeBlock(context.Background(), block)
	require.NoError(t, err)
	assert.Equal(t, [5]int{2, 1, 1, 1, 2}, summary.Counts.Tuple())
	assert.Equal(t, models.Window{TMin: 0, TMax: 0.5}, summary.Window)
}

func TestAnalyzeBlockFewHitsLogsAdvisory(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(DefaultConfig(), zap.New(core))

	block := sampleBlock()
	block.Presses = []float64{0.3}
	summary, err := svc.AnalyzeBlock(context.Background(), block)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(float64(summary.RTPeak)))
	require.Len(t, summary.Advisories, 1)
	assert.Equal(t, models.AdvisoryFewResponses, summary.Advisories[0].Code)

	entries := logs.FilterMessage("Analysis advisory").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "few_responses", entries[0].ContextMap()["code"])
}

func TestAnalyzeBlockInvalidWindow(t *testing.T) {
	svc := NewService(DefaultConfig(), nil)
	block := sampleBlock()
	block.Window = &models.Window{TMin: 0, TMax: 1.5}

	_, err := svc.AnalyzeBlock(context.Background(), block)
	assert.ErrorIs(t, err, classify.ErrInvalidWindow)
}

func TestAnalyzeBlocksKeepsOrder(t *testing.T) {
	svc := NewService(Config{Workers: 2}, nil)

	blocks := make([]models.Block, 6)
	for i := range blocks {
		b := sampleBlock()
		b.Label = string(rune('a' + i))
		b.Presses = b.Presses[:i+1]
		blocks[i] = b
	}

	summaries, err := svc.AnalyzeBlocks(context.Background(), blocks)
	require.NoError(t, err)
	require.Len(t, summaries, len(blocks))
	for i, s := range summaries {
		assert.Equal(t, blocks[i].Label, s.Label)
	}
}

func TestAnalyzeBlocksPropagatesError(t *testing.T) {
	svc := NewService(DefaultConfig(), nil)
	bad := sampleBlock()
	bad.Window = &models.Window{TMin: 0.5, TMax: 0.2}

	_, err := svc.AnalyzeBlocks(context.Background(), []models.Block{sampleBlock(), bad})
	assert.ErrorIs(t, err, classify.ErrInvalidWindow)
}

func TestAnalyzeBlockCancelled(t *testing.T) {
	svc := NewService(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.AnalyzeBlock(ctx, sampleBlock())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUpdateConfig(t *testing.T) {
	svc := NewService(DefaultConfig(), nil)
	svc.UpdateConfig(Config{Window: models.Window{TMin: 0.2, TMax: 0.6}, Workers: 1})

	cfg := svc.Config()
	assert.Equal(t, 0.2, cfg.Window.TMin)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, DefaultConfig().Correction, cfg.Correction)
}

func TestFitCurve(t *testing.T) {
	svc := NewService(DefaultConfig(), nil)
	truth := psychometric.Params{Lower: 0.5, Upper: 1, Midpoint: 2, Slope: 1.5}
	x := []float64{-2, -1, 0, 1, 1.5, 2, 2.5, 3, 4, 5, 6}
	y := psychometric.Sigmoid(x, truth)

	res, err := svc.FitCurve(context.Background(), x, y, &psychometric.FitOptions{
		Initial: map[psychometric.Param]float64{psychometric.Lower: 0.5},
		Fixed:   []psychometric.Param{psychometric.Lower},
	})
	require.NoError(t, err)
	assert.InDelta(t, truth.Midpoint, res.Params.Midpoint, 1e-4)
	assert.InDelta(t, truth.Slope, res.Params.Slope, 1e-4)

	_, err = svc.FitCurve(context.Background(), x, y[:3], nil)
	assert.Error(t, err)
}
