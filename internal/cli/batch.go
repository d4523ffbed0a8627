package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/todmy/psychometrics/internal/sdt"
	"github.com/todmy/psychometrics/internal/session"
	"github.com/todmy/psychometrics/pkg/models"
)

// BatchFile is the YAML layout read by the batch command. Window and
// Correction override the configured defaults for every block that does not
// carry its own window.
type BatchFile struct {
	Window     *models.Window `yaml:"window"`
	Correction string         `yaml:"correction"`
	Workers    int            `yaml:"workers"`
	Blocks     []models.Block `yaml:"blocks"`
}

// LoadBatchFile reads and decodes a batch file
func LoadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var f BatchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode batch file %s: %w", path, err)
	}
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("batch file %s: no blocks", path)
	}
	return &f, nil
}

func (f *BatchFile) apply(base session.Config) (session.Config, error) {
	if f.Window != nil {
		base.Window = *f.Window
	}
	if f.Correction != "" {
		c, err := sdt.ParseCorrection(f.Correction)
		if err != nil {
			return base, err
		}
		base.Correction = c
	}
	if f.Workers > 0 {
		base.Workers = f.Workers
	}
	return base, nil
}

func newBatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Analyze every block listed in a YAML file",
		Long: `batch reads blocks of presses, target onsets and foil onsets from a YAML file,
analyzes them in parallel and prints one summary per block in file order:
counts, d-prime, hit and false alarm rates and the reaction-time peak.`,
		Example: `  psychometrics batch session-01.yaml

  # session-01.yaml
  window: {tmin: 0.1, tmax: 0.8}
  blocks:
    - label: practice
      presses: [0.35, 1.2, 2.42]
      targets: [0, 2]
      foils: [1, 3]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := LoadBatchFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := f.apply(a.analysis.Config())
			if err != nil {
				return err
			}

			svc := session.NewService(cfg, a.log)
			summaries, err := svc.AnalyzeBlocks(cmd.Context(), f.Blocks)
			if err != nil {
				return err
			}

			a.log.Info("Batch analyzed",
				zap.String("file", args[0]),
				zap.Int("blocks", len(summaries)),
			)
			return writeJSON(cmd.OutOrStdout(), summaries)
		},
	}
}
