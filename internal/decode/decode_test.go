package decode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gnss-replay/internal/gnss"
)

func setBits(buf []byte, pos, n int, v uint32) {
	for i := 0; i < n; i++ {
		p := pos + i
		mask := byte(1) << (7 - uint(p%8))
		if v>>(uint(n-1-i))&1 != 0 {
			buf[p/8] |= mask
		} else {
			buf[p/8] &^= mask
		}
	}
}

func single(t *testing.T, d Decoder, rec gnss.CorrectionRecord) Update {
	t.Helper()
	ups, err := d.Decode(rec)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	return ups[0]
}

func TestSBASKinds(t *testing.T) {
	cases := []struct {
		typ  int
		want gnss.Mask
	}{
		{1, gnss.MaskOf(gnss.KindMask)},
		{2, gnss.MaskOf(gnss.KindClock)},
		{25, gnss.MaskOf(gnss.KindOrbit, gnss.KindClock)},
		{26, gnss.MaskOf(gnss.KindIonoSTEC)},
		{31, gnss.MaskOf(gnss.KindMask)},
		{32, gnss.MaskOf(gnss.KindOrbit, gnss.KindClock)},
		{48, gnss.MaskOf(gnss.KindMask)},
		{49, gnss.MaskOf(gnss.KindOrbit)},
		{50, gnss.MaskOf(gnss.KindClock)},
		{63, gnss.MaskOf(gnss.KindOther)},
	}
	for _, tc := range cases {
		u := single(t, SBAS{}, gnss.CorrectionRecord{MessageType: tc.typ})
		require.Equal(t, WideArea, u.Cell)
		require.Equal(t, tc.want, u.Kinds, "type %d", tc.typ)
	}
}

func TestRTCMSSRKinds(t *testing.T) {
	cases := []struct {
		typ  int
		want gnss.Mask
	}{
		{1057, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit)},
		{1058, gnss.MaskOf(gnss.KindClock)},
		{1059, gnss.MaskOf(gnss.KindCodeBias)},
		{1060, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock)},
		{1062, gnss.MaskOf(gnss.KindClock)},
		{1243, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock)},
		{1265, gnss.MaskOf(gnss.KindPhaseBias)},
		{1019, gnss.MaskOf(gnss.KindOther)},
	}
	for _, tc := range cases {
		u := single(t, RTCMSSR{}, gnss.CorrectionRecord{MessageType: tc.typ})
		require.Equal(t, tc.want, u.Kinds, "type %d", tc.typ)
	}
}

func TestIGSSSR(t *testing.T) {
	msg := func(sub uint32) gnss.CorrectionRecord {
		p := make([]byte, 8)
		setBits(p, 0, 12, 4076)
		setBits(p, 15, 8, sub)
		return gnss.CorrectionRecord{MessageType: 4076, Payload: p}
	}
	require.Equal(t, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock), single(t, RTCMSSR{}, msg(23)).Kinds)
	require.Equal(t, gnss.MaskOf(gnss.KindPhaseBias), single(t, RTCMSSR{}, msg(66)).Kinds)
	require.Equal(t, gnss.MaskOf(gnss.KindIonoSTEC), single(t, RTCMSSR{}, msg(201)).Kinds)

	_, err := RTCMSSR{}.Decode(gnss.CorrectionRecord{MessageType: 4076, Payload: []byte{0xfe}})
	require.True(t, errors.Is(err, ErrTruncated))
}

func cssr(sub uint32, network int, netPos int) gnss.CorrectionRecord {
	p := make([]byte, 16)
	setBits(p, 0, 12, cssrMessageNumber)
	setBits(p, 12, 4, sub)
	if netPos > 0 {
		setBits(p, netPos, 5, uint32(network))
	}
	return gnss.CorrectionRecord{Payload: p}
}

func TestCompactSSR(t *testing.T) {
	require.Equal(t, gnss.MaskOf(gnss.KindMask), single(t, CompactSSR{}, cssr(1, 0, 0)).Kinds)
	require.Equal(t, gnss.MaskOf(gnss.KindCodeBias, gnss.KindPhaseBias), single(t, CompactSSR{}, cssr(6, 0, 0)).Kinds)
	require.Equal(t, gnss.MaskOf(gnss.KindOrbit, gnss.KindClock), single(t, CompactSSR{}, cssr(11, 0, 0)).Kinds)
	require.Equal(t, gnss.MaskOf(gnss.KindOther), single(t, CompactSSR{}, cssr(7, 0, 0)).Kinds)

	for _, tc := range []struct {
		sub uint32
		pos int
	}{{8, 39}, {9, 40}, {12, 41}} {
		u := single(t, CompactSSR{}, cssr(tc.sub, 7, tc.pos))
		require.Equal(t, 7, u.Cell, "subtype %d", tc.sub)
		require.Equal(t, gnss.KindIonoSTEC.Bit(), u.Kinds)
	}

	ups, err := CompactSSR{}.Decode(gnss.CorrectionRecord{Payload: make([]byte, 16)})
	require.NoError(t, err)
	require.Empty(t, ups)

	bad := cssr(1, 0, 0)
	setBits(bad.Payload, 0, 12, 4070)
	_, err = CompactSSR{}.Decode(bad)
	require.Error(t, err)

	_, err = CompactSSR{}.Decode(gnss.CorrectionRecord{Payload: []byte{0x01}})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestHASFlags(t *testing.T) {
	p := make([]byte, 4)
	setBits(p, 12, 1, 1) // mask
	setBits(p, 13, 1, 1) // orbit
	setBits(p, 15, 1, 1) // clock subset
	setBits(p, 16, 1, 1) // code bias
	u := single(t, HAS{}, gnss.CorrectionRecord{MessageType: 1, Payload: p})
	require.Equal(t, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock, gnss.KindCodeBias), u.Kinds)
}

func TestForService(t *testing.T) {
	for _, name := range []string{"clas", "madoca", "sbas-l1", "sbas-l5", "slas", "b2b", "has", "rtcm-ssr"} {
		d, err := ForService(name)
		require.NoError(t, err, name)
		require.NotNil(t, d)
	}
	_, err := ForService("loran")
	require.Error(t, err)
}

func TestFuncAdapter(t *testing.T) {
	d := Func(func(rec gnss.CorrectionRecord) ([]Update, error) {
		return []Update{{Cell: rec.Source, Kinds: gnss.KindOrbit.Bit()}}, nil
	})
	u := single(t, d, gnss.CorrectionRecord{Source: 3})
	require.Equal(t, 3, u.Cell)
}
