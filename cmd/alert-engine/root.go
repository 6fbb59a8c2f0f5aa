package main

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensorhub/alert-engine/internal/conf"
	"github.com/sensorhub/alert-engine/internal/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "alert-engine",
		Short:         "Evaluate device telemetry against tenant alert rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		newRunCommand(opts),
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads the settings and builds the process logger.
func (o *rootOptions) load() (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return settings, newLogger(settings.Log, os.Stderr), nil
}

func newLogger(cfg conf.LogSettings, w io.Writer) logger.Logger {
	level := logger.ParseLevel(cfg.Level)
	if cfg.Format == "console" {
		return logger.NewConsoleLogger(w, level)
	}
	return logger.NewSlogLogger(w, level, time.UTC)
}
