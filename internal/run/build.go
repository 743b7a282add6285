package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"gnss-replay/internal/config"
	"gnss-replay/internal/correction"
	"gnss-replay/internal/decode"
	"gnss-replay/internal/epoch"
	"gnss-replay/internal/metrics"
	"gnss-replay/internal/replay"
	"gnss-replay/internal/solver"
	"gnss-replay/internal/tracker"
)

// Sites turns the configured sites into sweep entries. Inputs are opened
// lazily by each worker.
func Sites(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) []Site {
	list := cfg.SiteList()
	out := make([]Site, 0, len(list))
	for _, sc := range list {
		out = append(out, Site{
			ID: sc.ID,
			Open: func(ctx context.Context) (*Run, error) {
				return Build(ctx, cfg, sc, logger, m)
			},
		})
	}
	return out
}

// Build opens the inputs of one site and assembles its run. On error every
// input opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, site config.SiteConfig, logger *zap.Logger, m *metrics.Metrics) (_ *Run, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
		}
	}()

	opt := Options{
		Site:  site.ID,
		Start: cfg.StartTime,
		Scheduler: epoch.Options{
			Step:      cfg.Run.Step,
			MaxEpochs: cfg.Run.Epochs,
		},
		Required:        cfg.Required,
		Network:         cfg.Network.Cell,
		NetworkRequired: cfg.Network.RequiredMask,
		Staleness:       tracker.Staleness(cfg.Kinds),
		Limit:           cfg.Convergence.Limit,
	}
	ref := site.Reference
	if len(ref) == 0 {
		ref = cfg.Reference
	}
	opt.Reference, opt.HasReference = config.ReferenceECEF(ref)

	var in Inputs

	obs := site.Observations
	if obs == "" {
		obs = cfg.Observations
	}
	switch {
	case obs != "":
		rs, err := epoch.OpenRinex(obs)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.ID, err)
		}
		closers = append(closers, rs)
		in.Epochs = rs
	case !cfg.StartTime.IsZero() && cfg.Run.Epochs > 0:
		in.Epochs = epoch.NewClockSource(cfg.StartTime, cfg.Run.Interval, cfg.Run.Epochs)
	default:
		return nil, fmt.Errorf("site %s: observations, or run.start with run.epochs, are required", site.ID)
	}

	primary := cfg.Service
	if site.Corrections != "" {
		primary.Path = site.Corrections
	}
	suffix := ""
	if len(cfg.Sites) > 1 {
		suffix = site.ID
	}
	primary.DB = suffixDB(primary.DB, suffix)
	s, cl, err := OpenStream(ctx, primary, logger)
	if err != nil {
		return nil, fmt.Errorf("site %s: service: %w", site.ID, err)
	}
	closers = append(closers, cl...)
	in.Primary = s

	if cfg.Secondary != nil {
		sec := *cfg.Secondary
		if site.Secondary != "" {
			sec.Path = site.Secondary
		}
		sec.DB = suffixDB(sec.DB, strings.TrimPrefix(suffix+"-secondary", "-"))
		s, cl, err := OpenStream(ctx, sec, logger)
		if err != nil {
			return nil, fmt.Errorf("site %s: secondary: %w", site.ID, err)
		}
		closers = append(closers, cl...)
		in.Secondary = &s
	}

	policy, err := solver.ParseContinuation(cfg.Solver.Continuation)
	if err != nil {
		return nil, err
	}
	solPath := site.Solution
	if solPath == "" {
		solPath = cfg.Solver.Path
	}
	if solPath == "" {
		return nil, fmt.Errorf("site %s: solver.path is required for the recorded solver", site.ID)
	}
	rec, err := solver.OpenRecorded(solPath, policy)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.ID, err)
	}
	in.Solver = rec

	if cfg.Output.SolutionLog {
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return nil, err
		}
		w, err := replay.CreateSolutionWriter(filepath.Join(cfg.Output.Dir, site.ID+".pos"))
		if err != nil {
			return nil, err
		}
		in.Log = w
	}

	in.Closers = closers
	r, err := New(opt, in, logger, m)
	if err != nil {
		if in.Log != nil {
			_ = in.Log.Close()
		}
		return nil, err
	}
	if in.Log != nil {
		if err := writeLogHeader(in.Log, r, cfg); err != nil {
			_ = in.Log.Close()
			return nil, err
		}
	}
	return r, nil
}

// suffixDB names a separate SQLite file per site and stream so that no two
// streams load into the same table.
func suffixDB(dsn, suffix string) string {
	if dsn == "" || dsn == ":memory:" || suffix == "" {
		return dsn
	}
	ext := filepath.Ext(dsn)
	return strings.TrimSuffix(dsn, ext) + "-" + suffix + ext
}

func writeLogHeader(w *replay.SolutionWriter, r *Run, cfg config.Config) error {
	for _, kv := range [][2]string{
		{"run_id", r.ID},
		{"site", r.opt.Site},
		{"service", cfg.Service.Name},
		{"profile", cfg.Mode},
		{"required", cfg.Required.String()},
	} {
		if err := w.WriteHeader(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// OpenStream opens the feed of one correction stream and pairs it with the
// service's decoder. The returned closers belong to the caller.
func OpenStream(ctx context.Context, sc config.StreamConfig, logger *zap.Logger) (Stream, []io.Closer, error) {
	svc, err := correction.LookupService(sc.Name)
	if err != nil {
		return Stream{}, nil, err
	}
	dec, err := decode.ForService(sc.Name)
	if err != nil {
		return Stream{}, nil, err
	}
	lo, hi, all, err := config.ParseSources(sc.Sources)
	if err != nil {
		return Stream{}, nil, err
	}
	sources := correction.AnySource()
	if !all {
		sources = correction.SourceRange(lo, hi)
	}
	if sc.Path == "" {
		return Stream{}, nil, errors.New("path is required")
	}

	s := Stream{Service: svc, Decoder: dec, Sources: sources}
	var closers []io.Closer

	switch sc.Format {
	case "table", "sqlite":
		recs, stats, err := replay.ReadCorrectionFile(sc.Path)
		if err != nil {
			return Stream{}, nil, err
		}
		if stats.Malformed > 0 {
			logger.Warn("malformed correction lines skipped",
				zap.String("path", sc.Path),
				zap.Int("malformed", stats.Malformed),
				zap.String("first", stats.FirstMalformed))
		}
		if sc.Format == "table" {
			s.Feed = correction.NewTableFeed(recs)
			break
		}
		db, err := correction.OpenSQLiteFeed(ctx, sc.DB)
		if err != nil {
			return Stream{}, nil, err
		}
		if err := db.Load(ctx, recs); err != nil {
			_ = db.Close()
			return Stream{}, nil, fmt.Errorf("load %s: %w", sc.Path, err)
		}
		s.Feed = db
		closers = append(closers, db)
	case "chunk":
		f, err := os.Open(sc.Path)
		if err != nil {
			return Stream{}, nil, err
		}
		s.Feed = correction.NewChunkFeed(f, sc.Channel)
		closers = append(closers, f)
	case "rtcm":
		f, err := os.Open(sc.Path)
		if err != nil {
			return Stream{}, nil, err
		}
		feed, err := correction.NewRTCMFeed(f)
		_ = f.Close()
		if err != nil {
			return Stream{}, nil, err
		}
		s.Feed = feed
	default:
		return Stream{}, nil, fmt.Errorf("unknown format %q", sc.Format)
	}
	return s, closers, nil
}
