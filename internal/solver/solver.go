// Package solver is the boundary to the positioning filter. The filter
// itself (state propagation, ambiguity resolution) lives outside this
// module; runs only decide when it may consume corrections.
package solver

import (
	"context"
	"fmt"
	"strings"

	"gnss-replay/internal/gnss"
	"gnss-replay/internal/tracker"
)

// Adapter is called once per epoch. Process runs while the readiness gate
// is open; Idle runs while it is starved and decides what, if anything, the
// epoch reports.
type Adapter interface {
	Process(ctx context.Context, ep gnss.Epoch, cells *tracker.Cells) (gnss.SolutionSample, error)
	Idle(ctx context.Context, ep gnss.Epoch) gnss.SolutionSample
}

// Continuation is what a starved epoch reports.
type Continuation int

const (
	// ContinueNone reports no solution.
	ContinueNone Continuation = iota
	// ContinueHold repeats the last solution.
	ContinueHold
)

func (c Continuation) String() string {
	if c == ContinueHold {
		return "hold"
	}
	return "none"
}

func ParseContinuation(s string) (Continuation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ContinueNone, nil
	case "hold":
		return ContinueHold, nil
	}
	return ContinueNone, fmt.Errorf("unknown continuation policy %q (want none or hold)", s)
}

// Hold implements the continuation policy on top of any adapter's output.
type Hold struct {
	Policy Continuation
	last   gnss.SolutionSample
	have   bool
}

// Remember stores s as the last solution if it has one.
func (h *Hold) Remember(s gnss.SolutionSample) {
	if s.Mode == gnss.ModeNone {
		return
	}
	h.last, h.have = s, true
}

// Idle returns the sample a starved epoch reports.
func (h *Hold) Idle(ep gnss.Epoch) gnss.SolutionSample {
	if h.Policy == ContinueHold && h.have {
		s := h.last
		s.Epoch = ep
		return s
	}
	return gnss.SolutionSample{Epoch: ep, Mode: gnss.ModeNone}
}
