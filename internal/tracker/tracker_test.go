package tracker

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gnss-replay/internal/decode"
	"gnss-replay/internal/gnss"
)

var t0 = time.Date(2025, 8, 21, 7, 0, 0, 0, time.UTC)

func sec(n int) time.Time { return t0.Add(time.Duration(n) * time.Second) }

func TestUpdateLastWriteWins(t *testing.T) {
	tr := New(nil)
	require.True(t, tr.Update(gnss.KindOrbit, sec(5)))
	require.False(t, tr.Update(gnss.KindOrbit, sec(5)), "duplicate record must be a no-op")
	require.False(t, tr.Update(gnss.KindOrbit, sec(3)), "older record must not rewind state")

	at, ok := tr.LastUpdate(gnss.KindOrbit)
	require.True(t, ok)
	require.Equal(t, sec(5), at)

	require.True(t, tr.Update(gnss.KindOrbit, sec(6)))
	at, _ = tr.LastUpdate(gnss.KindOrbit)
	require.Equal(t, sec(6), at)
}

func TestDuplicateReplayLeavesStateUnchanged(t *testing.T) {
	st := Staleness{gnss.KindPhaseBias: 10 * time.Second}
	a, b := New(st), New(st)
	seq := []struct {
		kind gnss.ComponentKind
		at   int
	}{
		{gnss.KindMask, 0}, {gnss.KindOrbit, 1}, {gnss.KindPhaseBias, 2}, {gnss.KindClock, 4},
	}
	for _, u := range seq {
		a.Update(u.kind, sec(u.at))
		b.Update(u.kind, sec(u.at))
		b.Update(u.kind, sec(u.at))
	}
	for n := 0; n < 20; n++ {
		require.Equal(t, a.Valid(sec(n)), b.Valid(sec(n)), "t+%ds", n)
	}
}

func TestIsReadyHonoursStaleness(t *testing.T) {
	tr := New(Staleness{gnss.KindPhaseBias: 5 * time.Second})
	ppp := gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock, gnss.KindPhaseBias)

	tr.UpdateMask(gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock), sec(0))
	require.False(t, tr.IsReady(ppp, sec(0)))

	tr.Update(gnss.KindPhaseBias, sec(1))
	require.True(t, tr.IsReady(ppp, sec(1)))
	require.True(t, tr.IsReady(ppp, sec(6)), "age equal to the bound is still valid")
	require.False(t, tr.IsReady(ppp, sec(7)))
	// Mask/orbit/clock never expire without a bound.
	require.True(t, tr.IsReady(gnss.MaskOf(gnss.KindMask, gnss.KindOrbit), sec(100000)))
}

// Randomized check of the readiness rule: ready iff every required kind has
// been updated and is within its bound.
func TestIsReadyProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	kinds := gnss.Kinds()

	for iter := 0; iter < 2000; iter++ {
		st := Staleness{}
		for _, k := range kinds {
			if rng.IntN(2) == 0 {
				st[k] = time.Duration(1+rng.IntN(30)) * time.Second
			}
		}
		tr := New(st)
		last := map[gnss.ComponentKind]time.Time{}
		for _, k := range kinds {
			if rng.IntN(3) == 0 {
				continue
			}
			at := sec(rng.IntN(60))
			tr.Update(k, at)
			last[k] = at
		}

		required := gnss.Mask(rng.IntN(1 << len(kinds)))
		now := sec(60 + rng.IntN(10))

		want := true
		for _, k := range required.Kinds() {
			at, ok := last[k]
			if !ok {
				want = false
				break
			}
			if b := st[k]; b > 0 && now.Sub(at) > b {
				want = false
				break
			}
		}
		require.Equal(t, want, tr.IsReady(required, now), "iter %d required=%s staleness=%s", iter, required, st)
	}
}

func up(cell int, kinds ...gnss.ComponentKind) decode.Update {
	return decode.Update{Cell: cell, Kinds: gnss.MaskOf(kinds...)}
}

func TestSecondaryWaitsForPrimary(t *testing.T) {
	c := NewCells(nil)

	res := c.MergeSecondary(sec(1), []decode.Update{up(0, gnss.KindPhaseBias)})
	require.Equal(t, MergeResult{Queued: 1}, res)
	require.False(t, c.WideArea().Valid(sec(1)).Has(gnss.KindPhaseBias))

	res = c.MergePrimary(sec(1), []decode.Update{up(0, gnss.KindMask, gnss.KindOrbit)})
	require.Equal(t, 2, res.Applied)
	require.Equal(t, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindPhaseBias), c.WideArea().Valid(sec(1)))
	require.Zero(t, c.Pending())
}

func TestSecondaryNeverSubstitutesMask(t *testing.T) {
	c := NewCells(nil)

	c.MergePrimary(sec(1), []decode.Update{up(0, gnss.KindOrbit)})
	res := c.MergeSecondary(sec(1), []decode.Update{up(0, gnss.KindMask, gnss.KindClock)})
	require.Equal(t, MergeResult{Dropped: 1}, res)
	require.Equal(t, gnss.MaskOf(gnss.KindOrbit), c.WideArea().Valid(sec(1)))

	c.MergePrimary(sec(2), []decode.Update{up(0, gnss.KindMask)})
	c.MergeSecondary(sec(2), []decode.Update{up(0, gnss.KindMask, gnss.KindClock)})
	require.Equal(t, gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock), c.WideArea().Valid(sec(2)))
	at, _ := c.WideArea().LastUpdate(gnss.KindMask)
	require.Equal(t, sec(2), at)
}

func TestPendingDroppedByNewerPrimary(t *testing.T) {
	c := NewCells(nil)
	c.MergeSecondary(sec(3), []decode.Update{up(5, gnss.KindIonoSTEC)})
	c.MergeSecondary(sec(4), []decode.Update{up(5, gnss.KindIonoSTEC)})
	require.Equal(t, 2, c.Pending())

	res := c.MergePrimary(sec(4), []decode.Update{up(0, gnss.KindMask)})
	require.Equal(t, MergeResult{Applied: 2, Dropped: 1}, res)
	at, ok := c.Cell(5).LastUpdate(gnss.KindIonoSTEC)
	require.True(t, ok)
	require.Equal(t, sec(4), at)

	// Secondary for an epoch already passed is dropped.
	res = c.MergeSecondary(sec(2), []decode.Update{up(5, gnss.KindIonoSTEC)})
	require.Equal(t, MergeResult{Dropped: 1}, res)
	require.Equal(t, []int{0, 5}, c.IDs())
}

func TestGateTransitions(t *testing.T) {
	c := NewCells(Staleness{gnss.KindCodeBias: 2 * time.Second})
	g := &Gate{Required: gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock, gnss.KindCodeBias)}
	require.Equal(t, Starved, g.State())

	c.MergePrimary(sec(0), []decode.Update{up(0, gnss.KindMask, gnss.KindOrbit, gnss.KindClock)})
	_, changed := g.Evaluate(sec(0), c)
	require.False(t, changed)

	c.MergePrimary(sec(1), []decode.Update{up(0, gnss.KindCodeBias)})
	tr, changed := g.Evaluate(sec(1), c)
	require.True(t, changed)
	require.Equal(t, Transition{From: Starved, To: Ready, At: sec(1)}, tr)

	_, changed = g.Evaluate(sec(3), c)
	require.False(t, changed)

	tr, changed = g.Evaluate(sec(4), c)
	require.True(t, changed)
	require.Equal(t, Ready, tr.From)
	require.Equal(t, gnss.KindCodeBias.Bit(), tr.Missing)
	require.Equal(t, Starved, g.State())
	require.Equal(t, 2, g.Transitions())
}

func TestGateNetworkCell(t *testing.T) {
	c := NewCells(nil)
	g := &Gate{
		Required:        gnss.MaskOf(gnss.KindMask, gnss.KindOrbit, gnss.KindClock),
		Network:         7,
		NetworkRequired: gnss.KindIonoSTEC.Bit(),
	}
	c.MergePrimary(sec(0), []decode.Update{up(0, gnss.KindMask, gnss.KindOrbit, gnss.KindClock), up(3, gnss.KindIonoSTEC)})
	_, changed := g.Evaluate(sec(0), c)
	require.False(t, changed, "STEC for another network does not count")

	c.MergePrimary(sec(1), []decode.Update{up(7, gnss.KindIonoSTEC)})
	_, changed = g.Evaluate(sec(1), c)
	require.True(t, changed)
	require.Equal(t, Ready, g.State())
}
