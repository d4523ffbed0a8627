// Package cli implements the psychometrics command line tool.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/todmy/psychometrics/internal/config"
	"github.com/todmy/psychometrics/internal/logging"
	"github.com/todmy/psychometrics/internal/session"
)

// app is the state shared by all subcommands of one invocation
type app struct {
	projectRoot string
	logLevel    string

	log      *zap.Logger
	analysis *session.Service
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "psychometrics",
		Short: "Psychophysics analysis toolkit",
		Long: `psychometrics classifies response timestamps into signal detection outcomes
and computes d-prime, logit transforms, psychometric curve fits and
reaction-time statistics. Results are printed as JSON.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.projectRoot, "root", ".", "directory containing config/config.yaml")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newClassifyCmd(a),
		newDPrimeCmd(a),
		newLogitCmd(a),
		newSigmoidCmd(a),
		newFitCmd(a),
		newRTChiSquareCmd(a),
		newBatchCmd(a),
	)

	return rootCmd
}

// Execute runs the root command with os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logging.Config{
		Level:   a.logLevel,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.log = log

	cfg, err := config.Load(a.projectRoot)
	if err != nil {
		return err
	}
	sc, err := cfg.Analysis.Session()
	if err != nil {
		return err
	}
	a.analysis = session.NewService(sc, log)

	log.Debug("CLI configured",
		zap.String("command", cmd.Name()),
		zap.Float64("tmin", sc.Window.TMin),
		zap.Float64("tmax", sc.Window.TMax),
		zap.String("correction", string(sc.Correction)),
	)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
