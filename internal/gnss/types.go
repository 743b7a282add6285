package gnss

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Epoch is one observation epoch handed out by the scheduler.
type Epoch struct {
	// Time is in the GPS time scale.
	Time time.Time
	// Index counts processed epochs from 0.
	Index  int
	HasObs bool
}

// CorrectionRecord is a correction message normalized from any feed shape.
type CorrectionRecord struct {
	Source      int
	Week        int
	TimeOfWeek  float64
	MessageType int
	Payload     []byte
	Kind        ComponentKind
}

func (r CorrectionRecord) String() string {
	return fmt.Sprintf("src=%d tow=%.1f type=%d len=%d", r.Source, r.TimeOfWeek, r.MessageType, len(r.Payload))
}

// Mode is the solution status reported by the solver.
type Mode int

const (
	ModeNone Mode = iota
	ModeStandalone
	ModeFloat
	ModeFixed
)

func (m Mode) String() string {
	switch m {
	case ModeStandalone:
		return "STANDALONE"
	case ModeFloat:
		return "FLOAT"
	case ModeFixed:
		return "FIXED"
	default:
		return "NONE"
	}
}

// LogCode is the numeric status written to solution logs
// (0 none, 1 single, 4 fixed, 5 float).
func (m Mode) LogCode() int {
	switch m {
	case ModeStandalone:
		return 1
	case ModeFloat:
		return 5
	case ModeFixed:
		return 4
	default:
		return 0
	}
}

// ModeFromLogCode maps a solution-log status code to a Mode. DGNSS (2) and
// SBAS (3) solutions count as standalone.
func ModeFromLogCode(code int) (Mode, error) {
	switch code {
	case 0:
		return ModeNone, nil
	case 1, 2, 3:
		return ModeStandalone, nil
	case 4:
		return ModeFixed, nil
	case 5:
		return ModeFloat, nil
	}
	return ModeNone, fmt.Errorf("unknown solution mode %d", code)
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "":
		return ModeNone, nil
	case "STANDALONE", "SINGLE", "DGNSS":
		return ModeStandalone, nil
	case "FLOAT":
		return ModeFloat, nil
	case "FIXED", "FIX":
		return ModeFixed, nil
	}
	return ModeNone, fmt.Errorf("unknown solution mode %q", s)
}

// ENU is a local east/north/up vector in metres.
type ENU struct {
	E float64 `json:"e"`
	N float64 `json:"n"`
	U float64 `json:"u"`
}

// Horizontal returns the 2D length of the vector.
func (v ENU) Horizontal() float64 { return math.Hypot(v.E, v.N) }

// Axis returns component i (0=E, 1=N, 2=U).
func (v ENU) Axis(i int) float64 {
	switch i {
	case 0:
		return v.E
	case 1:
		return v.N
	default:
		return v.U
	}
}

// SolutionSample is the solver output for one processed epoch.
type SolutionSample struct {
	Epoch      Epoch
	Position   [3]float64
	Error      ENU
	HasError   bool
	Mode       Mode
	Satellites int
}

// WithReference returns a copy of s whose Error is computed against the
// reference ECEF position. Samples without a solution keep HasError=false.
func (s SolutionSample) WithReference(ref [3]float64) SolutionSample {
	if s.Mode == ModeNone {
		s.HasError = false
		s.Error = ENU{}
		return s
	}
	s.Error = ECEFToENU(ref, [3]float64{
		s.Position[0] - ref[0],
		s.Position[1] - ref[1],
		s.Position[2] - ref[2],
	})
	s.HasError = true
	return s
}
