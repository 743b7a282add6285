package run

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gnss-replay/internal/aggregate"
)

// Site is one independent run of a sweep. Open builds the run; it is called
// on the worker that executes it.
type Site struct {
	ID   string
	Open func(ctx context.Context) (*Run, error)
}

type SweepResult struct {
	// Runs holds one entry per site, in site order. Sites that failed to
	// open or run carry only their ID and Err.
	Runs   []SiteResult
	Report aggregate.Report
}

type SiteResult struct {
	Result
	Err error
}

// Sweep executes the sites on at most workers goroutines and joins their
// convergence results. A failing site is excluded from the report and never
// stops the others; only cancellation of ctx ends the sweep early.
func Sweep(ctx context.Context, sites []Site, workers int, logger *zap.Logger) (SweepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	agg := aggregate.New(logger)
	out := make([]SiteResult, len(sites))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, site := range sites {
		g.Go(func() error {
			res, err := runSite(gctx, site)
			res.Site = site.ID
			out[i] = SiteResult{Result: res, Err: err}
			switch {
			case err == nil:
				agg.Add(site.ID, res.Convergence)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				agg.Exclude(site.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepResult{Runs: out}, err
	}
	return SweepResult{Runs: out, Report: agg.Finalize()}, nil
}

func runSite(ctx context.Context, site Site) (res Result, err error) {
	r, err := site.Open(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close inputs: %w", cerr)
		}
	}()
	return r.Execute(ctx)
}
