package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gnss-replay/internal/metrics"
	"gnss-replay/internal/report"
	"gnss-replay/internal/run"
)

func newRunCmd(a *app) *cobra.Command {
	var siteID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay one site and print its statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sites := cfg.SiteList()
			site := sites[0]
			if siteID != "" {
				found := false
				for _, s := range sites {
					if s.ID == siteID {
						site, found = s, true
						break
					}
				}
				if !found {
					return fmt.Errorf("site %q is not configured", siteID)
				}
			}

			m := metrics.New()
			r, err := run.Build(cmd.Context(), cfg, site, a.logger, m)
			if err != nil {
				return err
			}
			res, err := r.Execute(cmd.Context())
			if cerr := r.Close(); cerr != nil {
				a.logger.Warn("close run inputs", zap.Error(cerr))
			}
			switch {
			case errors.Is(err, run.ErrNoEpochs):
				a.logger.Warn("run produced no epochs", zap.String("site", site.ID))
			case err != nil:
				return err
			}
			if err := m.WriteTextfile(cfg.Output.MetricsFile); err != nil {
				a.logger.Warn("write metrics", zap.String("path", cfg.Output.MetricsFile), zap.Error(err))
			}
			return report.WriteRun(cmd.OutOrStdout(), report.RunSummary{
				Site:   res.Site,
				RunID:  res.ID,
				Result: res.Convergence,
			}, a.reportOptions())
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "Site id to run (default: first configured site)")
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Replay every configured site in parallel and aggregate convergence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Workers = workers
			}

			m := metrics.New()
			res, err := run.Sweep(cmd.Context(), run.Sites(cfg, a.logger, m), cfg.Workers, a.logger)
			if err != nil {
				return err
			}
			if err := m.WriteTextfile(cfg.Output.MetricsFile); err != nil {
				a.logger.Warn("write metrics", zap.String("path", cfg.Output.MetricsFile), zap.Error(err))
			}
			return report.WriteSweep(cmd.OutOrStdout(), res.Report, a.reportOptions())
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent sites (default: workers from config)")
	return cmd
}
