package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gnss-replay/internal/config"
	"gnss-replay/internal/report"
)

// app carries the global flags and the logger shared by every command.
type app struct {
	configPath string
	verbose    bool
	json       bool
	noColor    bool

	level  zap.AtomicLevel
	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gnss-replay",
		Short: "Replay recorded GNSS corrections through a solver and report convergence",
		Long: `gnss-replay synchronizes recorded augmentation corrections to an
observation epoch clock, invokes the solver only once the corrections the
solving mode requires are valid, and reports convergence and accuracy
statistics per site and across sites.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				return nil
			}
			zc := zap.NewProductionConfig()
			a.level = zc.Level
			if a.verbose {
				a.level.SetLevel(zapcore.DebugLevel)
			}
			logger, err := zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "./replay.yaml", "Path to YAML config")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.json, "json", false, "Print reports as JSON")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newSweepCmd(a))
	root.AddCommand(newAnalyzeCmd(a))
	root.AddCommand(newSummaryCmd(a))
	return root
}

// loadConfig reads --config and applies its log level unless --verbose
// already asked for debug.
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}
	if !a.verbose && a.level != (zap.AtomicLevel{}) {
		if err := a.level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			return config.Config{}, fmt.Errorf("log.level: %w", err)
		}
	}
	return cfg, nil
}

func (a *app) reportOptions() report.Options {
	return report.Options{JSON: a.json, NoColor: a.noColor}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
