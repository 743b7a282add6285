package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gnss-replay/internal/aggregate"
	"gnss-replay/internal/config"
	"gnss-replay/internal/convergence"
	"gnss-replay/internal/replay"
	"gnss-replay/internal/report"
)

type analyzeOptions struct {
	Limit   float64
	Ref     []float64
	Workers int
}

func newAnalyzeCmd(a *app) *cobra.Command {
	opts := analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <glob>...",
		Short: "Compute convergence statistics of existing solution logs",
		Long: `analyze reads solution logs written by the solver (or by "run"), detects
the convergence point of each and, for more than one log, aggregates the
time to convergence across them. The site of a log is its file name without
extension, prefixed by its directory when several logs share that name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.Ref) != 0 && len(opts.Ref) != 3 {
				return fmt.Errorf("--ref must have 3 ECEF coordinates")
			}
			paths, err := expandGlobs(args)
			if err != nil {
				return err
			}
			runs, rep, err := analyzeLogs(cmd.Context(), paths, opts, a.logger)
			if err != nil {
				return err
			}
			if len(runs) == 1 {
				return report.WriteRun(cmd.OutOrStdout(), runs[0], a.reportOptions())
			}
			return report.WriteSweep(cmd.OutOrStdout(), rep, a.reportOptions())
		},
	}
	cmd.Flags().Float64Var(&opts.Limit, "limit", convergence.DefaultLimit, "Horizontal convergence threshold in metres")
	cmd.Flags().Float64SliceVar(&opts.Ref, "ref", nil, "Reference ECEF position x,y,z; recomputes the logged errors")
	cmd.Flags().IntVar(&opts.Workers, "workers", runtime.NumCPU(), "Logs analyzed concurrently")
	return cmd
}

// expandGlobs returns the sorted, de-duplicated matches of every pattern.
// A pattern without matches is an error.
func expandGlobs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", p)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func siteOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// siteIDs names each log after its file, qualified by its directory where
// two logs share a base name.
func siteIDs(paths []string) []string {
	seen := make(map[string]int, len(paths))
	for _, p := range paths {
		seen[siteOf(p)]++
	}
	ids := make([]string, len(paths))
	for i, p := range paths {
		ids[i] = siteOf(p)
		if seen[ids[i]] > 1 {
			ids[i] = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(p)), filepath.Ext(p))
		}
	}
	return ids
}

// analyzeLogs analyzes every log concurrently. A log that cannot be read is
// excluded from the aggregate; with a single log the read error is returned.
func analyzeLogs(ctx context.Context, paths []string, opts analyzeOptions, logger *zap.Logger) ([]report.RunSummary, aggregate.Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ref, hasRef := config.ReferenceECEF(opts.Ref)
	agg := aggregate.New(logger)
	runs := make([]report.RunSummary, len(paths))
	errs := make([]error, len(paths))
	sites := siteIDs(paths)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			site := sites[i]
			runs[i].Site = site
			samples, st, err := replay.ReadSolutionFile(path)
			if err != nil {
				errs[i] = err
				agg.Exclude(site, err)
				return nil
			}
			if st.Malformed > 0 {
				logger.Warn("malformed solution lines skipped",
					zap.String("path", path),
					zap.Int("malformed", st.Malformed),
					zap.String("first", st.FirstMalformed))
			}
			if hasRef {
				for j := range samples {
					samples[j] = samples[j].WithReference(ref)
				}
			}
			res := convergence.Analyze(samples, convergence.Options{Limit: opts.Limit})
			runs[i].Result = res
			agg.Add(site, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, aggregate.Report{}, err
	}
	if len(paths) == 1 && errs[0] != nil {
		return nil, aggregate.Report{}, errs[0]
	}
	return runs, agg.Finalize(), nil
}
