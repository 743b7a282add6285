// Package tracker keeps per-component correction state and decides when the
// solver has enough of it to run.
package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gnss-replay/internal/gnss"
)

// Staleness bounds how old each component may be before it stops counting
// as valid. A missing or zero bound means the component never expires, which
// is how recorded correction data was processed historically: a component
// stays valid until overwritten.
type Staleness map[gnss.ComponentKind]time.Duration

func (s Staleness) String() string {
	if len(s) == 0 {
		return "none"
	}
	kinds := make([]gnss.ComponentKind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%s", k, s[k]))
	}
	return strings.Join(parts, ",")
}

// Tracker holds the validity and last update time of each component kind
// for one cell. It is not safe for concurrent use; each run owns its own.
type Tracker struct {
	staleness Staleness
	set       gnss.Mask
	last      map[gnss.ComponentKind]time.Time
}

func New(staleness Staleness) *Tracker {
	return &Tracker{staleness: staleness, last: make(map[gnss.ComponentKind]time.Time)}
}

// Update marks kind as refreshed at t. Updates not newer than the last one
// for the same kind are ignored, so replaying a record is a no-op.
func (t *Tracker) Update(kind gnss.ComponentKind, at time.Time) bool {
	if !kind.Valid() {
		return false
	}
	if t.set.Has(kind) && !at.After(t.last[kind]) {
		return false
	}
	t.set |= kind.Bit()
	t.last[kind] = at
	return true
}

// UpdateMask applies Update for every kind in m and returns the kinds that
// changed.
func (t *Tracker) UpdateMask(m gnss.Mask, at time.Time) gnss.Mask {
	var changed gnss.Mask
	for _, k := range m.Kinds() {
		if t.Update(k, at) {
			changed |= k.Bit()
		}
	}
	return changed
}

func (t *Tracker) LastUpdate(kind gnss.ComponentKind) (time.Time, bool) {
	at, ok := t.last[kind]
	return at, ok
}

func (t *Tracker) fresh(kind gnss.ComponentKind, now time.Time) bool {
	if !t.set.Has(kind) {
		return false
	}
	bound := t.staleness[kind]
	if bound <= 0 {
		return true
	}
	return now.Sub(t.last[kind]) <= bound
}

// Valid returns the kinds that are set and within their staleness bound.
func (t *Tracker) Valid(now time.Time) gnss.Mask {
	var m gnss.Mask
	for _, k := range t.set.Kinds() {
		if t.fresh(k, now) {
			m |= k.Bit()
		}
	}
	return m
}

// IsReady reports whether every kind in required is valid at now.
func (t *Tracker) IsReady(required gnss.Mask, now time.Time) bool {
	return t.Valid(now).Contains(required)
}
