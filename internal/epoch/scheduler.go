// Package epoch hands out observation epochs to a run in strictly
// increasing time order.
package epoch

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"gnss-replay/internal/gnss"
)

// Source yields epochs in file order and returns io.EOF when exhausted.
// An error wrapping ErrBadEpoch reports one unreadable epoch record; the
// source must be able to continue with the next record after it.
type Source interface {
	Next() (gnss.Epoch, error)
}

// ErrBadEpoch marks an epoch record that could not be parsed.
var ErrBadEpoch = errors.New("bad epoch record")

type Options struct {
	// Step keeps only epochs whose elapsed time since the first retained
	// epoch is a multiple of Step. Zero keeps every epoch.
	Step time.Duration
	// MaxEpochs caps the number of epochs handed out. Zero is unbounded.
	MaxEpochs int
}

// Stats counts what the scheduler consumed without handing out.
type Stats struct {
	Processed int
	// Skipped: before the start time, or between decimation steps.
	Skipped int
	// Dropped: not later than the previous epoch.
	Dropped int
	// Malformed: epoch records the source could not parse.
	Malformed int
}

type Scheduler struct {
	src    Source
	opts   Options
	logger *zap.Logger

	peeked  *gnss.Epoch
	first   time.Time
	started bool
	last    time.Time
	hasLast bool
	done    bool
	stats   Stats
	between []gnss.Epoch
}

func NewScheduler(src Source, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{src: src, opts: opts, logger: logger}
}

func (s *Scheduler) Stats() Stats { return s.stats }

// next returns the next readable epoch, stepping over malformed records.
func (s *Scheduler) next() (gnss.Epoch, error) {
	if s.peeked != nil {
		ep := *s.peeked
		s.peeked = nil
		return ep, nil
	}
	for {
		ep, err := s.src.Next()
		if errors.Is(err, ErrBadEpoch) {
			s.stats.Malformed++
			s.logger.Warn("skipping malformed epoch record", zap.Error(err))
			continue
		}
		return ep, err
	}
}

// Between returns the epochs the last Advance consumed between decimation
// steps, oldest first. They precede the epoch Advance returned (or the end of
// the run). The slice is reused by the next Advance.
func (s *Scheduler) Between() []gnss.Epoch { return s.between }

// SkipUntil discards epochs earlier than t. The first epoch at or after t is
// kept for the next Advance. Reaching the end of the source is not an error;
// the following Advance simply reports the end of the run.
func (s *Scheduler) SkipUntil(t time.Time) error {
	for {
		ep, err := s.next()
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil
		}
		if err != nil {
			return err
		}
		if !ep.Time.Before(t) {
			s.peeked = &ep
			return nil
		}
		s.stats.Skipped++
	}
}

// Advance returns the next epoch to process. ok is false at the end of the
// source or once MaxEpochs epochs have been handed out.
func (s *Scheduler) Advance() (ep gnss.Epoch, ok bool, err error) {
	s.between = s.between[:0]
	if s.done || (s.opts.MaxEpochs > 0 && s.stats.Processed >= s.opts.MaxEpochs) {
		return gnss.Epoch{}, false, nil
	}
	for {
		ep, err = s.next()
		if errors.Is(err, io.EOF) {
			s.done = true
			return gnss.Epoch{}, false, nil
		}
		if err != nil {
			return gnss.Epoch{}, false, err
		}

		if s.hasLast && !ep.Time.After(s.last) {
			s.stats.Dropped++
			s.logger.Warn("dropping non-increasing epoch",
				zap.Time("epoch", ep.Time),
				zap.Time("previous", s.last))
			continue
		}
		s.last, s.hasLast = ep.Time, true

		if !s.started {
			s.first, s.started = ep.Time, true
		} else if !s.onStep(ep.Time) {
			s.stats.Skipped++
			s.between = append(s.between, ep)
			continue
		}

		ep.Index = s.stats.Processed
		s.stats.Processed++
		return ep, true, nil
	}
}

func (s *Scheduler) onStep(t time.Time) bool {
	if s.opts.Step <= 0 {
		return true
	}
	// Receiver time tags jitter below a millisecond.
	elapsed := t.Sub(s.first).Round(time.Millisecond)
	return elapsed%s.opts.Step == 0
}

// SliceSource serves epochs from memory.
type SliceSource struct {
	epochs []gnss.Epoch
	i      int
}

func NewSliceSource(epochs []gnss.Epoch) *SliceSource {
	return &SliceSource{epochs: epochs}
}

func (s *SliceSource) Next() (gnss.Epoch, error) {
	if s.i >= len(s.epochs) {
		return gnss.Epoch{}, io.EOF
	}
	ep := s.epochs[s.i]
	s.i++
	return ep, nil
}

// ClockSource produces count epochs at a fixed interval from start, each
// flagged as carrying observations. It drives runs whose observations are
// consumed entirely inside the solver.
type ClockSource struct {
	start    time.Time
	interval time.Duration
	count    int
	i        int
}

func NewClockSource(start time.Time, interval time.Duration, count int) *ClockSource {
	return &ClockSource{start: start, interval: interval, count: count}
}

func (c *ClockSource) Next() (gnss.Epoch, error) {
	if c.i >= c.count {
		return gnss.Epoch{}, io.EOF
	}
	ep := gnss.Epoch{Time: c.start.Add(time.Duration(c.i) * c.interval), HasObs: true}
	c.i++
	return ep, nil
}
