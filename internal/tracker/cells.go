package tracker

import (
	"sort"
	"time"

	"gnss-replay/internal/decode"
	"gnss-replay/internal/gnss"
)

// Cells is the set of per-cell trackers of one run. Cell 0 (decode.WideArea)
// holds the wide-area components, including the satellite mask every other
// cell depends on.
type Cells struct {
	staleness Staleness
	cells     map[int]*Tracker

	primaryAt  time.Time
	hasPrimary bool
	pending    map[int64][]decode.Update
}

func NewCells(staleness Staleness) *Cells {
	return &Cells{
		staleness: staleness,
		cells:     map[int]*Tracker{decode.WideArea: New(staleness)},
		pending:   make(map[int64][]decode.Update),
	}
}

// Cell returns the tracker for id, creating it on first use.
func (c *Cells) Cell(id int) *Tracker {
	tr := c.cells[id]
	if tr == nil {
		tr = New(c.staleness)
		c.cells[id] = tr
	}
	return tr
}

func (c *Cells) WideArea() *Tracker { return c.cells[decode.WideArea] }

// IDs lists the known cells in ascending order.
func (c *Cells) IDs() []int {
	out := make([]int, 0, len(c.cells))
	for id := range c.cells {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// MergeResult counts what a merge did with its updates.
type MergeResult struct {
	Applied int
	Queued  int
	Dropped int
}

// Add accumulates o into r.
func (r *MergeResult) Add(o MergeResult) {
	r.Applied += o.Applied
	r.Queued += o.Queued
	r.Dropped += o.Dropped
}

// MergePrimary applies the primary stream's updates for the epoch at and
// marks that epoch's primary merge complete, even with no updates. Secondary
// updates queued for at are applied afterwards if the mask is valid; queued
// updates for earlier epochs are dropped.
func (c *Cells) MergePrimary(at time.Time, updates []decode.Update) MergeResult {
	var res MergeResult
	if c.hasPrimary && at.Before(c.primaryAt) {
		res.Dropped = len(updates)
		return res
	}
	for _, u := range updates {
		c.Cell(u.Cell).UpdateMask(u.Kinds, at)
		res.Applied++
	}
	c.primaryAt = at
	c.hasPrimary = true

	key := at.UnixNano()
	for t, queued := range c.pending {
		switch {
		case t < key:
			res.Dropped += len(queued)
			delete(c.pending, t)
		case t == key:
			delete(c.pending, t)
			res.Add(c.applySecondary(at, queued))
		}
	}
	return res
}

// MergeSecondary merges updates from a secondary or extended stream. They
// are applied only once the primary for the same epoch has been merged and
// the wide-area mask is valid; until the primary arrives they wait. A
// secondary stream never sets the mask itself.
func (c *Cells) MergeSecondary(at time.Time, updates []decode.Update) MergeResult {
	if len(updates) == 0 {
		return MergeResult{}
	}
	switch {
	case c.hasPrimary && c.primaryAt.Equal(at):
		return c.applySecondary(at, updates)
	case !c.hasPrimary || at.After(c.primaryAt):
		key := at.UnixNano()
		c.pending[key] = append(c.pending[key], updates...)
		return MergeResult{Queued: len(updates)}
	default:
		return MergeResult{Dropped: len(updates)}
	}
}

// Pending returns the number of queued secondary updates.
func (c *Cells) Pending() int {
	n := 0
	for _, q := range c.pending {
		n += len(q)
	}
	return n
}

func (c *Cells) applySecondary(at time.Time, updates []decode.Update) MergeResult {
	var res MergeResult
	if !c.WideArea().Valid(at).Has(gnss.KindMask) {
		res.Dropped = len(updates)
		return res
	}
	for _, u := range updates {
		kinds := u.Kinds &^ gnss.KindMask.Bit()
		if kinds == 0 {
			res.Dropped++
			continue
		}
		c.Cell(u.Cell).UpdateMask(kinds, at)
		res.Applied++
	}
	return res
}
