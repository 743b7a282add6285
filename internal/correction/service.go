package correction

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gnss-replay/internal/gnss"
)

// Framing is how a service's messages arrive in recorded data.
type Framing int

const (
	// FramingMessage: every record is one complete message.
	FramingMessage Framing = iota
	// FramingL6: 250-byte QZSS L6 frames, five data parts per subframe.
	FramingL6
	// FramingRTCM: RTCM3 transport frames in a byte stream.
	FramingRTCM
)

func (f Framing) String() string {
	switch f {
	case FramingL6:
		return "l6"
	case FramingRTCM:
		return "rtcm3"
	default:
		return "message"
	}
}

// Service describes one augmentation service: which message types belong to
// it and the structural checks its raw records must pass.
type Service struct {
	Name    string
	Types   TypeFilter
	Framing Framing
	// Check returns an error wrapping ErrMalformed for a structurally invalid
	// payload. Nil accepts everything.
	Check func(payload []byte) error
}

var Services = map[string]Service{
	"clas":     {Name: "clas", Types: TypeSet(0), Framing: FramingL6, Check: CheckL6Frame},
	"madoca":   {Name: "madoca", Types: TypeSet(1), Framing: FramingL6, Check: CheckL6Frame},
	"sbas-l1":  {Name: "sbas-l1", Types: Types(TypeRange{0, 28}), Check: CheckSBASL1},
	"sbas-l5":  {Name: "sbas-l5", Types: Types(TypeRange{31, 32}, TypeRange{34, 37}), Check: CheckDFMC},
	"slas":     {Name: "slas", Types: Types(TypeRange{47, 51}), Check: CheckSBASL1},
	"b2b":      {Name: "b2b", Types: Types(TypeRange{1, 63}), Check: checkMinLen(b2bMinLen)},
	"has":      {Name: "has", Types: TypeSet(1), Check: checkMinLen(hasPageLen)},
	"rtcm-ssr": {Name: "rtcm-ssr", Types: AnyType(), Framing: FramingRTCM},
}

// LookupService resolves a service by case-insensitive name.
func LookupService(name string) (Service, error) {
	s, ok := Services[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Service{}, fmt.Errorf("unknown correction service %q (known: %s)", name, strings.Join(ServiceNames(), ", "))
	}
	return s, nil
}

func ServiceNames() []string {
	out := make([]string, 0, len(Services))
	for name := range Services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

const (
	L6FrameLen  = 250
	sbasMsgLen  = 32 // 250 bits padded to bytes
	sbasMsgBits = 226
	b2bMinLen   = 61 // 486 bits
	hasPageLen  = 56 // 448 bits
)

var l6Preamble = []byte{0x1A, 0xCF, 0xFC, 0x1D}

// CheckL6Frame validates length and preamble of a QZSS L6 frame.
func CheckL6Frame(p []byte) error {
	if len(p) != L6FrameLen {
		return fmt.Errorf("%w: l6 frame length %d, want %d", ErrMalformed, len(p), L6FrameLen)
	}
	if !bytes.Equal(p[:4], l6Preamble) {
		return fmt.Errorf("%w: l6 preamble % x", ErrMalformed, p[:4])
	}
	return nil
}

// CheckSBASL1 validates an L1 SBAS (or L1S) 250-bit message: preamble
// 0x53/0x9A/0xC6 and CRC-24Q over the first 226 bits.
func CheckSBASL1(p []byte) error {
	if err := checkSBASCRC(p); err != nil {
		return err
	}
	switch p[0] {
	case 0x53, 0x9A, 0xC6:
		return nil
	}
	return fmt.Errorf("%w: sbas preamble 0x%02x", ErrMalformed, p[0])
}

// CheckDFMC validates an L5 DFMC message. The 4-bit preamble rotates
// through a sequence the receiver tracks, so only the CRC is checked.
func CheckDFMC(p []byte) error {
	return checkSBASCRC(p)
}

func checkSBASCRC(p []byte) error {
	if len(p) < sbasMsgLen {
		return fmt.Errorf("%w: sbas message length %d, want %d", ErrMalformed, len(p), sbasMsgLen)
	}
	if got, want := CRC24QBits(p, sbasMsgBits), getBits(p, sbasMsgBits, 24); got != want {
		return fmt.Errorf("%w: sbas crc 0x%06x, want 0x%06x", ErrMalformed, got, want)
	}
	return nil
}

func checkMinLen(n int) func([]byte) error {
	return func(p []byte) error {
		if len(p) < n {
			return fmt.Errorf("%w: payload length %d, want >= %d", ErrMalformed, len(p), n)
		}
		return nil
	}
}

// Stage turns raw feed records of one service into decodable records:
// records outside the service's types are ignored, records failing the
// structural check are rejected, and L6 frames are assembled per source
// into subframes.
type Stage struct {
	svc        Service
	assemblers map[int]*L6Assembler
}

// StageResult counts what one Accept call did.
type StageResult struct {
	Accepted  int
	Ignored   int
	Malformed int
	// Pending counts chunks absorbed by an incomplete subframe.
	Pending int
}

func NewStage(svc Service) *Stage {
	return &Stage{svc: svc, assemblers: make(map[int]*L6Assembler)}
}

func (s *Stage) Service() Service { return s.svc }

// Accept runs recs through the stage. Malformed records never stop the batch;
// the first structural error is returned alongside the usable records.
func (s *Stage) Accept(recs []gnss.CorrectionRecord) ([]gnss.CorrectionRecord, StageResult, error) {
	var (
		res      StageResult
		firstErr error
		out      = make([]gnss.CorrectionRecord, 0, len(recs))
	)
	for _, rec := range recs {
		if !s.svc.Types.Contains(rec.MessageType) {
			res.Ignored++
			continue
		}
		if s.svc.Check != nil {
			if err := s.svc.Check(rec.Payload); err != nil {
				res.Malformed++
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", rec, err)
				}
				continue
			}
		}
		if s.svc.Framing != FramingL6 {
			res.Accepted++
			out = append(out, rec)
			continue
		}
		a := s.assemblers[rec.Source]
		if a == nil {
			a = &L6Assembler{}
			s.assemblers[rec.Source] = a
		}
		sub, ok := a.Push(rec)
		if !ok {
			res.Pending++
			continue
		}
		res.Accepted++
		out = append(out, sub)
	}
	return out, res, firstErr
}
