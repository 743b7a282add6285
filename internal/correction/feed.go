// Package correction normalizes recorded augmentation-correction sources into
// gnss.CorrectionRecord values that can be queried per observation epoch.
//
// Two source shapes exist in recorded data: flat tables where every row is a
// complete message instance (TableFeed, SQLiteFeed) and continuous bitstreams
// that arrive in fixed-size chunks or framed messages (ChunkFeed, RTCMFeed).
// Chunked services additionally pass through an Assembler, see Stage.
package correction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gnss-replay/internal/gnss"
)

// ErrMalformed marks a record that failed a structural check.
var ErrMalformed = errors.New("malformed correction record")

// Feed returns the correction records matching one epoch. An empty result is
// not an error.
type Feed interface {
	Query(ctx context.Context, q Query) ([]gnss.CorrectionRecord, error)
}

type Query struct {
	TimeOfWeek float64
	Sources    SourceFilter
	Types      TypeFilter
}

// SourceFilter selects transmitting sources (satellite PRN) by inclusive range.
// The zero value matches every source.
type SourceFilter struct {
	Min, Max int
	set      bool
}

func AnySource() SourceFilter { return SourceFilter{} }

func Source(id int) SourceFilter { return SourceFilter{Min: id, Max: id, set: true} }

func SourceRange(lo, hi int) SourceFilter {
	if hi < lo {
		lo, hi = hi, lo
	}
	return SourceFilter{Min: lo, Max: hi, set: true}
}

func (f SourceFilter) Any() bool { return !f.set }

func (f SourceFilter) Contains(id int) bool {
	if !f.set {
		return true
	}
	return id >= f.Min && id <= f.Max
}

func (f SourceFilter) String() string {
	switch {
	case !f.set:
		return "*"
	case f.Min == f.Max:
		return fmt.Sprintf("%d", f.Min)
	default:
		return fmt.Sprintf("%d-%d", f.Min, f.Max)
	}
}

type TypeRange struct {
	Lo, Hi int
}

// TypeFilter is the valid message-type enumeration of a service, as a union of
// inclusive ranges. The zero value matches every type.
type TypeFilter struct {
	ranges []TypeRange
}

func AnyType() TypeFilter { return TypeFilter{} }

// Types builds a filter from ranges; single types are ranges with Lo == Hi.
func Types(ranges ...TypeRange) TypeFilter {
	out := make([]TypeRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Hi < r.Lo {
			r.Lo, r.Hi = r.Hi, r.Lo
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	return TypeFilter{ranges: out}
}

// TypeSet builds a filter from individual types.
func TypeSet(types ...int) TypeFilter {
	rs := make([]TypeRange, 0, len(types))
	for _, t := range types {
		rs = append(rs, TypeRange{Lo: t, Hi: t})
	}
	return Types(rs...)
}

func (f TypeFilter) Any() bool { return len(f.ranges) == 0 }

func (f TypeFilter) Contains(t int) bool {
	if len(f.ranges) == 0 {
		return true
	}
	for _, r := range f.ranges {
		if t >= r.Lo && t <= r.Hi {
			return true
		}
	}
	return false
}

// Intersect narrows f to the types also accepted by other.
func (f TypeFilter) Intersect(other TypeFilter) TypeFilter {
	if f.Any() {
		return other
	}
	if other.Any() {
		return f
	}
	var out []TypeRange
	for _, a := range f.ranges {
		for _, b := range other.ranges {
			lo, hi := max(a.Lo, b.Lo), min(a.Hi, b.Hi)
			if lo <= hi {
				out = append(out, TypeRange{Lo: lo, Hi: hi})
			}
		}
	}
	if len(out) == 0 {
		// Nothing in common; keep a filter that matches nothing.
		return TypeFilter{ranges: []TypeRange{{Lo: 1, Hi: 0}}}
	}
	return Types(out...)
}

func (f TypeFilter) String() string {
	if f.Any() {
		return "*"
	}
	parts := make([]string, 0, len(f.ranges))
	for _, r := range f.ranges {
		if r.Lo == r.Hi {
			parts = append(parts, fmt.Sprintf("%d", r.Lo))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d-%d", r.Lo, r.Hi))
	}
	return strings.Join(parts, ",")
}

func (q Query) matches(rec gnss.CorrectionRecord) bool {
	return gnss.SameTimeOfWeek(rec.TimeOfWeek, q.TimeOfWeek) &&
		q.Sources.Contains(rec.Source) &&
		q.Types.Contains(rec.MessageType)
}
