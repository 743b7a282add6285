package tracker

import (
	"fmt"
	"time"

	"gnss-replay/internal/gnss"
)

type State int

const (
	Starved State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "READY"
	}
	return "STARVED"
}

// Transition is emitted when the gate changes state.
type Transition struct {
	From, To State
	At       time.Time
	// Missing lists the wide-area kinds that were not valid at At.
	Missing gnss.Mask
}

func (t Transition) String() string {
	return fmt.Sprintf("%s -> %s at %s (missing %s)", t.From, t.To, t.At.Format(time.RFC3339), t.Missing)
}

// Gate decides each epoch whether the solver may run. It starts Starved.
type Gate struct {
	// Required wide-area kinds.
	Required gnss.Mask
	// NetworkRequired kinds must additionally be valid on cell Network.
	// Zero disables the network check.
	Network         int
	NetworkRequired gnss.Mask

	state       State
	transitions int
}

func (g *Gate) State() State { return g.state }

// Transitions counts state changes so far.
func (g *Gate) Transitions() int { return g.transitions }

func (g *Gate) ready(now time.Time, cells *Cells) bool {
	if !cells.WideArea().IsReady(g.Required, now) {
		return false
	}
	if g.NetworkRequired == 0 {
		return true
	}
	return cells.Cell(g.Network).IsReady(g.NetworkRequired, now)
}

// Evaluate re-checks readiness at now. The bool is true when the state
// changed; the returned Transition is then populated.
func (g *Gate) Evaluate(now time.Time, cells *Cells) (Transition, bool) {
	next := Starved
	if g.ready(now, cells) {
		next = Ready
	}
	if next == g.state {
		return Transition{}, false
	}
	tr := Transition{
		From:    g.state,
		To:      next,
		At:      now,
		Missing: g.Required &^ cells.WideArea().Valid(now),
	}
	g.state = next
	g.transitions++
	return tr, true
}
