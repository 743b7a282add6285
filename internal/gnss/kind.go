package gnss

import (
	"fmt"
	"strconv"
	"strings"
)

// ComponentKind identifies one class of augmentation correction. The numeric
// value is the bit position inside a Mask.
type ComponentKind int

const (
	KindMask ComponentKind = iota
	KindOrbit
	KindClock
	KindCodeBias
	KindPhaseBias
	KindIonoSTEC
	KindOther

	numKinds
)

var kindNames = [numKinds]string{
	KindMask:      "MASK",
	KindOrbit:     "ORBIT",
	KindClock:     "CLOCK",
	KindCodeBias:  "CODE_BIAS",
	KindPhaseBias: "PHASE_BIAS",
	KindIonoSTEC:  "IONO_STEC",
	KindOther:     "OTHER",
}

// Kinds lists every component kind in bit order.
func Kinds() []ComponentKind {
	out := make([]ComponentKind, 0, numKinds)
	for k := ComponentKind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

func (k ComponentKind) Valid() bool { return k >= 0 && k < numKinds }

func (k ComponentKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("KIND(%d)", int(k))
	}
	return kindNames[k]
}

// Bit returns the single-bit mask for k.
func (k ComponentKind) Bit() Mask {
	if !k.Valid() {
		return 0
	}
	return Mask(1) << uint(k)
}

// ParseKind accepts the upper-case kind names, case-insensitively.
// "STEC" and "CBIAS"/"PBIAS" are accepted as aliases.
func ParseKind(s string) (ComponentKind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "STEC", "IONO":
		return KindIonoSTEC, nil
	case "CBIAS":
		return KindCodeBias, nil
	case "PBIAS":
		return KindPhaseBias, nil
	}
	for k := ComponentKind(0); k < numKinds; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown component kind %q", s)
}

// Mask is a set of component kinds.
type Mask uint16

// MaskOf builds a mask from kinds.
func MaskOf(kinds ...ComponentKind) Mask {
	var m Mask
	for _, k := range kinds {
		m |= k.Bit()
	}
	return m
}

func (m Mask) Has(k ComponentKind) bool { return m&k.Bit() != 0 }

// Contains reports whether every bit of other is set in m.
func (m Mask) Contains(other Mask) bool { return m&other == other }

func (m Mask) Kinds() []ComponentKind {
	var out []ComponentKind
	for k := ComponentKind(0); k < numKinds; k++ {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (m Mask) String() string {
	if m == 0 {
		return "NONE"
	}
	kinds := m.Kinds()
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, "|")
}

// ParseMask parses "MASK|ORBIT|CLOCK" (also comma separated) or a numeric
// literal such as "0xf".
func ParseMask(s string) (Mask, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty mask")
	}
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		n, err := strconv.ParseUint(s[2:], 16, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid mask %q: %w", s, err)
		}
		m := Mask(n)
		if m&^allKinds != 0 {
			return 0, fmt.Errorf("mask %s has bits outside the known kinds", s)
		}
		return m, nil
	}
	var m Mask
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == '+' }) {
		k, err := ParseKind(part)
		if err != nil {
			return 0, err
		}
		m |= k.Bit()
	}
	return m, nil
}

const allKinds = Mask(1)<<uint(numKinds) - 1
