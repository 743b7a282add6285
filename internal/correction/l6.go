package correction

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gnss-replay/internal/gnss"
)

// L6 frame layout (2000 bits): preamble(32) prn(8) message type(8) alert(1)
// data part(1695) Reed-Solomon(256). The low bit of the message type byte
// flags the first data part of a subframe.
const (
	l6DataPos      = 49
	l6DataBits     = 1695
	L6PartsPerSub  = 5
	l6SubframeBits = l6DataBits * L6PartsPerSub
)

// L6Assembler accumulates the data parts of one L6 stream. Frames seen before
// the first subframe indicator are discarded, because the subframe they
// belong to cannot be completed.
type L6Assembler struct {
	buf     [(l6SubframeBits + 7) / 8]byte
	count   int
	started bool
}

// Push adds one structurally valid frame. It returns the assembled subframe
// record once the fifth data part arrives.
func (a *L6Assembler) Push(rec gnss.CorrectionRecord) (gnss.CorrectionRecord, bool) {
	p := rec.Payload
	if len(p) < L6FrameLen {
		return gnss.CorrectionRecord{}, false
	}
	if p[5]&0x01 != 0 {
		a.started = true
		a.count = 0
		clear(a.buf[:])
	}
	if !a.started {
		return gnss.CorrectionRecord{}, false
	}

	copyBits(a.buf[:], a.count*l6DataBits, p, l6DataPos, l6DataBits)
	a.count++
	if a.count < L6PartsPerSub {
		return gnss.CorrectionRecord{}, false
	}

	a.started = false
	a.count = 0
	payload := make([]byte, len(a.buf))
	copy(payload, a.buf[:])
	return gnss.CorrectionRecord{
		Source:      int(p[4]),
		Week:        rec.Week,
		TimeOfWeek:  rec.TimeOfWeek,
		MessageType: rec.MessageType,
		Payload:     payload,
		Kind:        gnss.KindOther,
	}, true
}

// ChunkFeed reads an L6 archive: a raw concatenation of 250-byte frames at one
// frame per second, aligned with the observation epochs. Each Query consumes
// exactly one frame. Once the archive is exhausted queries return nothing.
type ChunkFeed struct {
	r           io.Reader
	messageType int
	done        bool
}

// NewChunkFeed reads frames from r; messageType is the L6 channel recorded in
// the archive (0 for L6D, 1 for L6E).
func NewChunkFeed(r io.Reader, messageType int) *ChunkFeed {
	return &ChunkFeed{r: r, messageType: messageType}
}

func (f *ChunkFeed) Query(ctx context.Context, q Query) ([]gnss.CorrectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.done {
		return nil, nil
	}
	frame := make([]byte, L6FrameLen)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		f.done = true
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read l6 frame: %w", err)
	}
	rec := gnss.CorrectionRecord{
		Source:      int(frame[4]),
		TimeOfWeek:  q.TimeOfWeek,
		MessageType: f.messageType,
		Payload:     frame,
		Kind:        gnss.KindOther,
	}
	if !q.Sources.Contains(rec.Source) || !q.Types.Contains(rec.MessageType) {
		return nil, nil
	}
	return []gnss.CorrectionRecord{rec}, nil
}
