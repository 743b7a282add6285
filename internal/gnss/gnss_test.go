package gnss

import (
	"math"
	"testing"
	"time"
)

func TestParseMask(t *testing.T) {
	cases := []struct {
		in   string
		want Mask
	}{
		{"MASK|ORBIT|CLOCK", 0x7},
		{"mask, orbit, clock, code_bias", 0xf},
		{"ORBIT|CLOCK", 0x6},
		{"0xf", 0xf},
		{"STEC", KindIonoSTEC.Bit()},
	}
	for _, tc := range cases {
		got, err := ParseMask(tc.in)
		if err != nil {
			t.Fatalf("ParseMask(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMask(%q)=%s want %s", tc.in, got, tc.want)
		}
	}

	if _, err := ParseMask("MASK|WIND"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := ParseMask("0x1ff"); err == nil {
		t.Fatalf("expected error for out-of-range bits")
	}
	if _, err := ParseMask(""); err == nil {
		t.Fatalf("expected error for empty mask")
	}
}

func TestMaskString(t *testing.T) {
	m := MaskOf(KindMask, KindClock)
	if m.String() != "MASK|CLOCK" {
		t.Fatalf("String()=%q", m.String())
	}
	if Mask(0).String() != "NONE" {
		t.Fatalf("empty mask String()=%q", Mask(0).String())
	}
	if !MaskOf(KindMask, KindOrbit, KindClock).Contains(MaskOf(KindOrbit, KindClock)) {
		t.Fatalf("Contains() false")
	}
}

func TestTimeOfWeekRoundTrip(t *testing.T) {
	ts := time.Date(2025, 8, 21, 7, 0, 0, 500*int(time.Millisecond), time.UTC)
	week, tow := TimeOfWeek(ts)
	if week != 2380 {
		t.Fatalf("week=%d want 2380", week)
	}
	if math.Abs(tow-(4*86400+7*3600+0.5)) > 1e-6 {
		t.Fatalf("tow=%f", tow)
	}
	if back := GPSTime(week, tow); !back.Equal(ts) {
		t.Fatalf("GPSTime()=%s want %s", back, ts)
	}
}

func TestECEFToENU(t *testing.T) {
	ref := [3]float64{-3962108.6836, 3381309.5672, 3668678.6720}
	g := ECEFToGeodetic(ref)
	latDeg := g.Lat * 180 / math.Pi
	lonDeg := g.Lon * 180 / math.Pi
	if math.Abs(latDeg-35.3) > 0.1 || math.Abs(lonDeg-139.5) > 0.1 {
		t.Fatalf("lat=%f lon=%f", latDeg, lonDeg)
	}

	// A pure "up" displacement along the ellipsoid normal.
	up := [3]float64{
		math.Cos(g.Lat) * math.Cos(g.Lon),
		math.Cos(g.Lat) * math.Sin(g.Lon),
		math.Sin(g.Lat),
	}
	enu := ECEFToENU(ref, up)
	if math.Abs(enu.U-1) > 1e-9 || math.Abs(enu.E) > 1e-9 || math.Abs(enu.N) > 1e-9 {
		t.Fatalf("enu=%+v want pure up", enu)
	}
}

func TestWithReference(t *testing.T) {
	ref := [3]float64{-3962108.6836, 3381309.5672, 3668678.6720}
	s := SolutionSample{Position: ref, Mode: ModeFloat}
	s.Position[2] += 0.1
	got := s.WithReference(ref)
	if !got.HasError {
		t.Fatalf("HasError=false")
	}
	if got.Error.Horizontal() > 0.1 || got.Error.Horizontal() <= 0 {
		t.Fatalf("horizontal=%f", got.Error.Horizontal())
	}

	none := SolutionSample{Mode: ModeNone}.WithReference(ref)
	if none.HasError {
		t.Fatalf("no-solution sample must not carry an error vector")
	}
}

func TestModeLogCodes(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeStandalone, ModeFloat, ModeFixed} {
		got, err := ModeFromLogCode(m.LogCode())
		if err != nil {
			t.Fatalf("ModeFromLogCode(%d) error: %v", m.LogCode(), err)
		}
		if got != m {
			t.Fatalf("round trip %s -> %d -> %s", m, m.LogCode(), got)
		}
	}
	if _, err := ModeFromLogCode(9); err == nil {
		t.Fatalf("expected error for unknown code")
	}
}
