package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rahul/kuruma/internal/observability"
	"github.com/rahul/kuruma/pkg/config"
)

const defaultConfigFile = "config.yaml"

// app carries what every subcommand needs once the root has run.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kuruma",
		Short:         "Turn spoken-style instructions into timed wheel motion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			observability.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file, YAML or JSON (default ./config.yaml when present)")

	root.AddCommand(
		newServeCmd(a),
		newPlanCmd(a),
		newExecCmd(a),
		newSayCmd(a),
		newCalibrateCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) initialize(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// serve owns the terminal; one-shot commands keep stdout for their
	// own output.
	if cmd.Name() == "serve" {
		observability.InitializeLogger(cfg.Logger)
	} else {
		observability.Initialize(cfg.Logger, zapcore.Lock(os.Stderr))
	}
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded", zap.String("path", path), zap.String("actuator", cfg.Actuator.Kind))
	return nil
}
