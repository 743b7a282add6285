// Package decode classifies correction records into the component kinds they
// update. Only message headers are inspected; turning a message body into
// satellite corrections is the positioning solver's job.
package decode

import (
	"errors"
	"fmt"
	"strings"

	"gnss-replay/internal/gnss"
)

// WideArea is the cell id for corrections that apply everywhere.
const WideArea = 0

var ErrTruncated = errors.New("payload too short for message header")

// Update says which components one record refreshed, and for which cell.
type Update struct {
	Cell  int
	Kinds gnss.Mask
}

type Decoder interface {
	Decode(rec gnss.CorrectionRecord) ([]Update, error)
}

// Func adapts an ordinary function to Decoder.
type Func func(rec gnss.CorrectionRecord) ([]Update, error)

func (f Func) Decode(rec gnss.CorrectionRecord) ([]Update, error) { return f(rec) }

// ForService returns the decoder for a correction service name.
func ForService(name string) (Decoder, error) {
	switch strings.ToLower(name) {
	case "clas", "madoca":
		return CompactSSR{}, nil
	case "sbas-l1", "sbas-l5", "slas":
		return SBAS{}, nil
	case "b2b":
		return B2b{}, nil
	case "has":
		return HAS{}, nil
	case "rtcm-ssr":
		return RTCMSSR{}, nil
	}
	return nil, fmt.Errorf("no decoder for service %q", name)
}

func wideArea(kinds ...gnss.ComponentKind) []Update {
	return []Update{{Cell: WideArea, Kinds: gnss.MaskOf(kinds...)}}
}

// getBits extracts an unsigned field of n bits (n <= 32) starting at bit pos.
func getBits(buf []byte, pos, n int) uint32 {
	var v uint32
	for i := pos; i < pos+n; i++ {
		v = v<<1 | uint32(buf[i/8]>>(7-uint(i%8)))&1
	}
	return v
}

func need(p []byte, bits int) error {
	if len(p)*8 < bits {
		return fmt.Errorf("%w: %d bytes, want %d bits", ErrTruncated, len(p), bits)
	}
	return nil
}
