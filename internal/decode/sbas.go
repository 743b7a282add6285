package decode

import "gnss-replay/internal/gnss"

// SBAS classifies L1 SBAS, L5 DFMC and QZSS L1S messages by message type.
type SBAS struct{}

func (SBAS) Decode(rec gnss.CorrectionRecord) ([]Update, error) {
	switch t := rec.MessageType; {
	case t == 1, t == 31, t == 48: // PRN mask
		return wideArea(gnss.KindMask), nil
	case t >= 2 && t <= 5: // fast corrections
		return wideArea(gnss.KindClock), nil
	case t == 24, t == 25, t == 32: // long-term (and mixed) orbit/clock
		return wideArea(gnss.KindOrbit, gnss.KindClock), nil
	case t == 26:
		return wideArea(gnss.KindIonoSTEC), nil
	case t == 49: // data issue numbers tie corrections to broadcast orbits
		return wideArea(gnss.KindOrbit), nil
	case t == 50: // DGPS pseudorange corrections
		return wideArea(gnss.KindClock), nil
	}
	return wideArea(gnss.KindOther), nil
}

// B2b classifies BeiDou PPP-B2b messages.
type B2b struct{}

func (B2b) Decode(rec gnss.CorrectionRecord) ([]Update, error) {
	switch rec.MessageType {
	case 1:
		return wideArea(gnss.KindMask), nil
	case 2:
		return wideArea(gnss.KindOrbit), nil
	case 3:
		return wideArea(gnss.KindCodeBias), nil
	case 4:
		return wideArea(gnss.KindClock), nil
	}
	return wideArea(gnss.KindOther), nil
}
