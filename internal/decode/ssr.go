package decode

import (
	"fmt"

	"gnss-replay/internal/gnss"
)

// RTCMSSR classifies RTCM 3 SSR messages by message number. Every SSR
// message lists its satellites, so orbit messages also establish the mask.
type RTCMSSR struct{}

// First message number of each constellation's SSR block:
// orbit, clock, code bias, orbit+clock, URA, high-rate clock.
var ssrBlocks = []int{1057, 1063, 1240, 1246, 1252, 1258}

func (RTCMSSR) Decode(rec gnss.CorrectionRecord) ([]Update, error) {
	t := rec.MessageType
	if t >= 1265 && t <= 1270 {
		return wideArea(gnss.KindPhaseBias), nil
	}
	if t == 4076 {
		return decodeIGSSSR(rec.Payload)
	}
	for _, base := range ssrBlocks {
		if t < base || t >= base+6 {
			continue
		}
		switch t - base {
		case 0:
			return wideArea(gnss.KindMask, gnss.KindOrbit), nil
		case 1, 5:
			return wideArea(gnss.KindClock), nil
		case 2:
			return wideArea(gnss.KindCodeBias), nil
		case 3:
			return wideArea(gnss.KindMask, gnss.KindOrbit, gnss.KindClock), nil
		}
		return wideArea(gnss.KindOther), nil
	}
	return wideArea(gnss.KindOther), nil
}

// IGS SSR (4076): message number(12) version(3) subtype(8). Subtypes repeat
// in blocks of 20 per constellation; 201 and up carry VTEC.
func decodeIGSSSR(p []byte) ([]Update, error) {
	if err := need(p, 23); err != nil {
		return nil, err
	}
	sub := int(getBits(p, 15, 8))
	if sub >= 201 {
		return wideArea(gnss.KindIonoSTEC), nil
	}
	if sub < 21 {
		return wideArea(gnss.KindOther), nil
	}
	switch (sub-1)%20 + 1 {
	case 1:
		return wideArea(gnss.KindMask, gnss.KindOrbit), nil
	case 2, 4:
		return wideArea(gnss.KindClock), nil
	case 3:
		return wideArea(gnss.KindMask, gnss.KindOrbit, gnss.KindClock), nil
	case 5:
		return wideArea(gnss.KindCodeBias), nil
	case 6:
		return wideArea(gnss.KindPhaseBias), nil
	}
	return wideArea(gnss.KindOther), nil
}

// CompactSSR classifies the leading message of an assembled QZSS L6
// subframe (CLAS, MADOCA-PPP): message number 4073 followed by a 4-bit
// subtype. Padding (message number 0) yields no updates. Ionosphere
// subtypes are attributed to the network cell named in their header.
type CompactSSR struct{}

const cssrMessageNumber = 4073

func (CompactSSR) Decode(rec gnss.CorrectionRecord) ([]Update, error) {
	p := rec.Payload
	if err := need(p, 16); err != nil {
		return nil, err
	}
	msg := getBits(p, 0, 12)
	if msg == 0 {
		return nil, nil
	}
	if msg != cssrMessageNumber {
		return nil, fmt.Errorf("unexpected message number %d in l6 subframe", msg)
	}

	// Common header after the subtype: epoch(12) update interval(4)
	// multiple message(1) IOD SSR(4), ending at bit 37.
	switch sub := getBits(p, 12, 4); sub {
	case 1:
		return wideArea(gnss.KindMask), nil
	case 2:
		return wideArea(gnss.KindOrbit), nil
	case 3:
		return wideArea(gnss.KindClock), nil
	case 4:
		return wideArea(gnss.KindCodeBias), nil
	case 5:
		return wideArea(gnss.KindPhaseBias), nil
	case 6:
		return wideArea(gnss.KindCodeBias, gnss.KindPhaseBias), nil
	case 11:
		return wideArea(gnss.KindOrbit, gnss.KindClock), nil
	case 8: // STEC type(2) network(5)
		return networkSTEC(p, 39)
	case 9: // tropo type(2) STEC range(1) network(5)
		return networkSTEC(p, 40)
	case 12: // tropo avail(2) STEC avail(2) network(5)
		return networkSTEC(p, 41)
	default:
		return wideArea(gnss.KindOther), nil
	}
}

func networkSTEC(p []byte, pos int) ([]Update, error) {
	if err := need(p, pos+5); err != nil {
		return nil, err
	}
	return []Update{{Cell: int(getBits(p, pos, 5)), Kinds: gnss.KindIonoSTEC.Bit()}}, nil
}

// HAS classifies an assembled Galileo HAS message from the content flags of
// its header: TOH(12) mask(1) orbit(1) clock full-set(1) clock subset(1)
// code bias(1) phase bias(1).
type HAS struct{}

func (HAS) Decode(rec gnss.CorrectionRecord) ([]Update, error) {
	p := rec.Payload
	if err := need(p, 18); err != nil {
		return nil, err
	}
	var m gnss.Mask
	if getBits(p, 12, 1) == 1 {
		m |= gnss.KindMask.Bit()
	}
	if getBits(p, 13, 1) == 1 {
		m |= gnss.KindOrbit.Bit()
	}
	if getBits(p, 14, 2) != 0 {
		m |= gnss.KindClock.Bit()
	}
	if getBits(p, 16, 1) == 1 {
		m |= gnss.KindCodeBias.Bit()
	}
	if getBits(p, 17, 1) == 1 {
		m |= gnss.KindPhaseBias.Bit()
	}
	if m == 0 {
		m = gnss.KindOther.Bit()
	}
	return []Update{{Cell: WideArea, Kinds: m}}, nil
}
