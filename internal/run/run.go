// Package run replays one site's observation epochs against its correction
// streams, gating the solver on correction readiness.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gnss-replay/internal/convergence"
	"gnss-replay/internal/correction"
	"gnss-replay/internal/decode"
	"gnss-replay/internal/epoch"
	"gnss-replay/internal/gnss"
	"gnss-replay/internal/metrics"
	"gnss-replay/internal/replay"
	"gnss-replay/internal/solver"
	"gnss-replay/internal/tracker"
)

// ErrNoEpochs marks a run that completed without processing any epoch,
// e.g. because its start time was never reached.
var ErrNoEpochs = errors.New("no epochs processed")

// Stream is one correction input of a run.
type Stream struct {
	Feed    correction.Feed
	Service correction.Service
	Decoder decode.Decoder
	Sources correction.SourceFilter
}

// Options are the per-run settings that do not involve I/O.
type Options struct {
	Site      string
	Start     time.Time
	Scheduler epoch.Options

	Required        gnss.Mask
	Network         int
	NetworkRequired gnss.Mask
	Staleness       tracker.Staleness

	Reference    [3]float64
	HasReference bool
	Limit        float64
}

// Inputs are the collaborators a run drives. Secondary and Log are optional.
type Inputs struct {
	Epochs    epoch.Source
	Primary   Stream
	Secondary *Stream
	Solver    solver.Adapter
	Log       *replay.SolutionWriter
	// Closers are released by Close.
	Closers []io.Closer
}

// Stats counts what happened over the run.
type Stats struct {
	Epochs int
	// Decimated epochs were ingested but produced no sample.
	Decimated    int
	Invocations  int
	Idle         int
	Transitions  int
	FeedErrors   int
	DecodeErrors int
	Primary      correction.StageResult
	Secondary    correction.StageResult
	Merge        tracker.MergeResult
	// FirstReady is the index of the first epoch the solver processed, -1
	// if it never ran.
	FirstReady int
	Scheduler  epoch.Stats
}

// Result is the outcome of Execute.
type Result struct {
	ID          string
	Site        string
	Samples     []gnss.SolutionSample
	Stats       Stats
	Convergence convergence.Result
}

type stream struct {
	label string
	Stream
	stage *correction.Stage
	stats *correction.StageResult
}

// Run is the context of a single replay. It owns the solution store; nothing
// about a run is shared with other runs.
type Run struct {
	ID  string
	opt Options

	logger  *zap.Logger
	metrics *metrics.Metrics

	sched     *epoch.Scheduler
	primary   *stream
	secondary *stream
	cells     *tracker.Cells
	gate      *tracker.Gate
	solver    solver.Adapter
	log       *replay.SolutionWriter
	closers   []io.Closer

	samples []gnss.SolutionSample
	stats   Stats
}

// New assembles a run. logger and m may be nil.
func New(opt Options, in Inputs, logger *zap.Logger, m *metrics.Metrics) (*Run, error) {
	if in.Epochs == nil {
		return nil, errors.New("run: no epoch source")
	}
	if in.Primary.Feed == nil || in.Primary.Decoder == nil {
		return nil, errors.New("run: primary stream needs a feed and a decoder")
	}
	if in.Solver == nil {
		return nil, errors.New("run: no solver")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("run_id", id), zap.String("site", opt.Site))

	r := &Run{
		ID:      id,
		opt:     opt,
		logger:  logger,
		metrics: m,
		sched:   epoch.NewScheduler(in.Epochs, opt.Scheduler, logger),
		cells:   tracker.NewCells(opt.Staleness),
		gate: &tracker.Gate{
			Required:        opt.Required,
			Network:         opt.Network,
			NetworkRequired: opt.NetworkRequired,
		},
		solver:  in.Solver,
		log:     in.Log,
		closers: in.Closers,
		stats:   Stats{FirstReady: -1},
	}
	r.primary = &stream{label: "primary", Stream: in.Primary, stage: correction.NewStage(in.Primary.Service), stats: &r.stats.Primary}
	if in.Secondary != nil {
		if in.Secondary.Feed == nil || in.Secondary.Decoder == nil {
			return nil, errors.New("run: secondary stream needs a feed and a decoder")
		}
		r.secondary = &stream{label: "secondary", Stream: *in.Secondary, stage: correction.NewStage(in.Secondary.Service), stats: &r.stats.Secondary}
	}
	return r, nil
}

// Samples returns the solution store. Samples are never modified once
// appended.
func (r *Run) Samples() []gnss.SolutionSample { return r.samples }

func (r *Run) Stats() Stats { return r.stats }

// Execute runs the epoch loop to completion. Running out of epochs, whether
// by budget or end of input, is a normal completion. Per-epoch feed, decode
// and solver failures are logged and counted; only the epoch source and ctx
// can stop the run early.
func (r *Run) Execute(ctx context.Context) (Result, error) {
	started := time.Now()
	r.logger.Info("run starting",
		zap.Stringer("required", r.opt.Required),
		zap.Stringer("staleness", r.opt.Staleness),
		zap.Duration("step", r.opt.Scheduler.Step),
		zap.Int("max_epochs", r.opt.Scheduler.MaxEpochs))

	if !r.opt.Start.IsZero() {
		if err := r.sched.SkipUntil(r.opt.Start); err != nil {
			return r.result(), fmt.Errorf("skip to %s: %w", r.opt.Start.Format(time.DateTime), err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}
		ep, ok, err := r.sched.Advance()
		if err != nil {
			return r.result(), fmt.Errorf("read epoch: %w", err)
		}
		// Decimated epochs still advance the correction streams.
		for _, skipped := range r.sched.Between() {
			_, tow := gnss.TimeOfWeek(skipped.Time)
			if err := r.ingest(ctx, skipped, r.logger.With(zap.Float64("tow", tow))); err != nil {
				return r.result(), err
			}
			r.stats.Decimated++
		}
		if !ok {
			break
		}
		if err := r.step(ctx, ep); err != nil {
			return r.result(), err
		}
	}

	if r.log != nil {
		if err := r.log.Flush(); err != nil {
			r.logger.Warn("flush solution log", zap.Error(err))
		}
	}

	res := r.result()
	fields := []zap.Field{
		zap.Int("epochs", r.stats.Epochs),
		zap.Int("invocations", r.stats.Invocations),
		zap.Int("first_ready", r.stats.FirstReady),
		zap.Int("malformed", r.stats.Primary.Malformed+r.stats.Secondary.Malformed),
		zap.Duration("took", time.Since(started)),
	}
	if c := res.Convergence; c.Valid {
		fields = append(fields, zap.Duration("time_to_convergence", c.TimeToConvergence))
		r.metrics.Converged(r.opt.Site, c.TimeToConvergence)
	}
	r.logger.Info("run complete", fields...)
	if r.stats.Epochs == 0 {
		return res, ErrNoEpochs
	}
	return res, nil
}

func (r *Run) result() Result {
	r.stats.Scheduler = r.sched.Stats()
	return Result{
		ID:          r.ID,
		Site:        r.opt.Site,
		Samples:     r.samples,
		Stats:       r.stats,
		Convergence: convergence.Analyze(r.samples, convergence.Options{Limit: r.opt.Limit}),
	}
}

// step processes one epoch. Only context cancellation is returned.
func (r *Run) step(ctx context.Context, ep gnss.Epoch) error {
	began := time.Now()
	_, tow := gnss.TimeOfWeek(ep.Time)
	log := r.logger.With(zap.Int("epoch", ep.Index), zap.Float64("tow", tow))

	if err := r.ingest(ctx, ep, log); err != nil {
		return err
	}

	if tr, changed := r.gate.Evaluate(ep.Time, r.cells); changed {
		r.stats.Transitions++
		r.metrics.Transition(r.opt.Site, tr.To.String())
		log.Info("readiness changed",
			zap.Stringer("from", tr.From),
			zap.Stringer("to", tr.To),
			zap.Stringer("missing", tr.Missing))
	}

	var sample gnss.SolutionSample
	if r.gate.State() == tracker.Ready && ep.HasObs {
		s, err := r.solver.Process(ctx, ep, r.cells)
		switch {
		case err == nil:
			sample = s
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.Warn("solver failed", zap.Error(err))
			sample = gnss.SolutionSample{Epoch: ep, Mode: gnss.ModeNone}
		}
		r.stats.Invocations++
		if r.stats.FirstReady < 0 {
			r.stats.FirstReady = ep.Index
		}
		r.metrics.Invocation(r.opt.Site, "process")
	} else {
		sample = r.solver.Idle(ctx, ep)
		r.stats.Idle++
		r.metrics.Invocation(r.opt.Site, "idle")
	}
	sample.Epoch = ep
	if r.opt.HasReference {
		sample = sample.WithReference(r.opt.Reference)
	}
	r.samples = append(r.samples, sample)
	r.stats.Epochs++

	if r.log != nil {
		if err := r.log.WriteSample(sample); err != nil {
			log.Warn("write solution log", zap.Error(err))
		}
	}
	r.metrics.Epoch(r.opt.Site, time.Since(began))
	return nil
}

// ingest queries the streams for the epoch and merges what they carry into
// the cells, primary first.
func (r *Run) ingest(ctx context.Context, ep gnss.Epoch, log *zap.Logger) error {
	_, tow := gnss.TimeOfWeek(ep.Time)
	updates, err := r.collect(ctx, r.primary, tow, log)
	if err != nil {
		return err
	}
	r.stats.Merge.Add(r.cells.MergePrimary(ep.Time, updates))

	if r.secondary == nil {
		return nil
	}
	updates, err = r.collect(ctx, r.secondary, tow, log)
	if err != nil {
		return err
	}
	mr := r.cells.MergeSecondary(ep.Time, updates)
	r.stats.Merge.Add(mr)
	r.metrics.Records(r.opt.Site, r.secondary.label, metrics.ResultQueued, mr.Queued)
	r.metrics.Records(r.opt.Site, r.secondary.label, metrics.ResultDropped, mr.Dropped)
	return nil
}

// collect queries one stream for the epoch and decodes what it accepts.
// Records the stage rejects or the decoder cannot read are counted and
// skipped.
func (r *Run) collect(ctx context.Context, s *stream, tow float64, log *zap.Logger) ([]decode.Update, error) {
	recs, err := s.Feed.Query(ctx, correction.Query{TimeOfWeek: tow, Sources: s.Sources})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.stats.FeedErrors++
		log.Warn("correction query failed", zap.String("stream", s.label), zap.Error(err))
		return nil, nil
	}

	accepted, res, err := s.stage.Accept(recs)
	if err != nil {
		log.Debug("malformed correction record",
			zap.String("stream", s.label),
			zap.Int("count", res.Malformed),
			zap.Error(err))
	}
	s.stats.Accepted += res.Accepted
	s.stats.Ignored += res.Ignored
	s.stats.Malformed += res.Malformed
	s.stats.Pending += res.Pending
	r.metrics.Records(r.opt.Site, s.label, metrics.ResultAccepted, res.Accepted)
	r.metrics.Records(r.opt.Site, s.label, metrics.ResultIgnored, res.Ignored)
	r.metrics.Records(r.opt.Site, s.label, metrics.ResultMalformed, res.Malformed)
	r.metrics.Records(r.opt.Site, s.label, metrics.ResultPending, res.Pending)

	var updates []decode.Update
	for _, rec := range accepted {
		u, err := s.Decoder.Decode(rec)
		if err != nil {
			r.stats.DecodeErrors++
			r.metrics.Records(r.opt.Site, s.label, metrics.ResultDecodeError, 1)
			log.Debug("decode failed", zap.String("stream", s.label), zap.Stringer("record", rec), zap.Error(err))
			continue
		}
		updates = append(updates, u...)
	}
	return updates, nil
}

// Close releases the run's inputs and the solution log.
func (r *Run) Close() error {
	var errs []error
	if r.log != nil {
		errs = append(errs, r.log.Close())
	}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
