package correction

import (
	"context"
	"fmt"
	"io"
	"math"

	"gnss-replay/internal/gnss"
)

const (
	rtcmSync      = 0xD3
	rtcmHeaderLen = 3
	rtcmCRCLen    = 3

	// GPS-UTC offset in force since 2017-01-01.
	gpsUTCLeapSeconds = 18
	moscowOffset      = 3 * 3600
	secondsPerDay     = 86400
	secondsPerWeek    = 7 * secondsPerDay
)

// RTCMFeed replays an RTCM3 byte stream. A query returns every message in
// stream order until it reaches one stamped after the query epoch; that
// message and everything behind it stay queued for later epochs. Messages
// without an epoch time (ephemerides, station data) are released as they are
// reached.
//
// Frames whose CRC does not match are skipped one byte at a time until the
// next sync byte, and counted in Malformed.
type RTCMFeed struct {
	buf       []byte
	pos       int
	malformed int
}

// NewRTCMFeed reads the complete stream from r.
func NewRTCMFeed(r io.Reader) (*RTCMFeed, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rtcm stream: %w", err)
	}
	return &RTCMFeed{buf: buf}, nil
}

// Malformed returns the number of frames rejected so far.
func (f *RTCMFeed) Malformed() int { return f.malformed }

func (f *RTCMFeed) Query(ctx context.Context, q Query) ([]gnss.CorrectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []gnss.CorrectionRecord
	for {
		msg, next, ok := f.nextFrame()
		if !ok {
			return out, nil
		}
		typ := int(getBits(msg, 0, 12))
		tow, stamped := rtcmEpochTime(typ, msg, q.TimeOfWeek)
		if stamped && tow > q.TimeOfWeek && !gnss.SameTimeOfWeek(tow, q.TimeOfWeek) {
			return out, nil
		}
		f.pos = next
		if !stamped {
			tow = q.TimeOfWeek
		}
		if !q.Types.Contains(typ) {
			continue
		}
		out = append(out, gnss.CorrectionRecord{
			TimeOfWeek:  tow,
			MessageType: typ,
			Payload:     msg,
			Kind:        gnss.KindOther,
		})
	}
}

// nextFrame finds the next CRC-valid frame at or after pos without consuming
// it. Bytes skipped while resynchronising are consumed.
func (f *RTCMFeed) nextFrame() (msg []byte, next int, ok bool) {
	for f.pos < len(f.buf) {
		if f.buf[f.pos] != rtcmSync {
			f.pos++
			continue
		}
		if f.pos+rtcmHeaderLen > len(f.buf) {
			f.pos = len(f.buf)
			return nil, 0, false
		}
		n := int(getBits(f.buf[f.pos:], 14, 10))
		end := f.pos + rtcmHeaderLen + n + rtcmCRCLen
		if end > len(f.buf) {
			// Truncated tail, or a sync byte inside garbage.
			f.pos++
			continue
		}
		body := f.buf[f.pos : f.pos+rtcmHeaderLen+n]
		if CRC24Q(body) != getBits(f.buf[f.pos+rtcmHeaderLen+n:], 0, 24) || n < 2 {
			f.malformed++
			f.pos++
			continue
		}
		msg = make([]byte, n)
		copy(msg, body[rtcmHeaderLen:])
		return msg, end, true
	}
	return nil, 0, false
}

// rtcmEpochTime returns the GPS time of week carried by SSR messages.
// GLONASS messages only carry a time of day; ref, a nearby GPS time of week,
// places them in the week.
func rtcmEpochTime(typ int, msg []byte, ref float64) (float64, bool) {
	switch {
	case typ >= 1063 && typ <= 1068: // GLONASS, 17-bit seconds of the Moscow day
		if len(msg)*8 < 29 {
			return 0, false
		}
		return glonassTimeOfWeek(float64(getBits(msg, 12, 17)), ref), true
	case typ >= 1057 && typ <= 1062, // GPS
		typ >= 1240 && typ <= 1251, // Galileo, QZSS
		typ >= 1252 && typ <= 1257: // SBAS
		if len(msg)*8 < 32 {
			return 0, false
		}
		return float64(getBits(msg, 12, 20)), true
	case typ >= 1258 && typ <= 1263: // BeiDou, BDT seconds of week
		if len(msg)*8 < 32 {
			return 0, false
		}
		return float64(getBits(msg, 12, 20)) + 14, true
	case typ == 4076: // IGS SSR: version(3) subtype(8) epoch(20)
		if len(msg)*8 < 43 {
			return 0, false
		}
		return float64(getBits(msg, 23, 20)), true
	}
	return 0, false
}

// glonassTimeOfWeek converts a GLONASS time of day (UTC+3h) into the GPS
// time of week closest to ref.
func glonassTimeOfWeek(tod, ref float64) float64 {
	gpsTod := tod - moscowOffset + gpsUTCLeapSeconds
	tow := math.Floor(ref/secondsPerDay)*secondsPerDay + gpsTod
	if tow-ref > secondsPerDay/2 {
		tow -= secondsPerDay
	} else if ref-tow > secondsPerDay/2 {
		tow += secondsPerDay
	}
	return math.Mod(tow+secondsPerWeek, secondsPerWeek)
}
