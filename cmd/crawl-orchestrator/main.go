package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/crawl-orchestrator/internal/entity"
	"github.com/user/crawl-orchestrator/pkg/config"
	"github.com/user/crawl-orchestrator/pkg/logger"
)

const (
	exitFailure     = 1
	exitConfigError = 2
)

// options are the flags shared by every command.
type options struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "crawl-orchestrator",
		Short:         "Runs an external crawler on a schedule and turns its exports into SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default ./orchestrator.yaml)")

	cmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newNextCommand(opts),
		newSQLCommand(opts),
	)
	return cmd
}

// load reads and validates the configuration and builds the logger it describes.
func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, &entity.ConfigError{Source: "log.level", Err: err}
	}
	return cfg, log, nil
}

func exitCode(err error) int {
	var cfgErr *entity.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfigError
	}
	return exitFailure
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
