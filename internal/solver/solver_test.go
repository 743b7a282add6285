package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gnss-replay/internal/gnss"
)

var t0 = time.Date(2025, 8, 21, 7, 0, 0, 0, time.UTC)

func ep(i int) gnss.Epoch {
	return gnss.Epoch{Time: t0.Add(time.Duration(i) * time.Second), Index: i, HasObs: true}
}

func recorded(policy Continuation) *Recorded {
	return NewRecorded([]gnss.SolutionSample{
		{Epoch: ep(1), Mode: gnss.ModeFloat, Position: [3]float64{1, 2, 3}, Satellites: 12},
		{Epoch: ep(2), Mode: gnss.ModeFixed, Position: [3]float64{1, 2, 4}, Satellites: 13},
	}, policy)
}

func TestRecordedProcess(t *testing.T) {
	r := recorded(ContinueNone)
	ctx := context.Background()
	require.Equal(t, 2, r.Len())

	s, err := r.Process(ctx, ep(1), nil)
	require.NoError(t, err)
	require.Equal(t, gnss.ModeFloat, s.Mode)
	require.Equal(t, 12, s.Satellites)
	require.Equal(t, ep(1), s.Epoch)

	s, err = r.Process(ctx, ep(5), nil)
	require.NoError(t, err)
	require.Equal(t, gnss.ModeNone, s.Mode)
}

func TestIdleContinuation(t *testing.T) {
	ctx := context.Background()

	none := recorded(ContinueNone)
	_, _ = none.Process(ctx, ep(2), nil)
	require.Equal(t, gnss.ModeNone, none.Idle(ctx, ep(3)).Mode)

	hold := recorded(ContinueHold)
	require.Equal(t, gnss.ModeNone, hold.Idle(ctx, ep(0)).Mode, "nothing to hold yet")
	_, _ = hold.Process(ctx, ep(2), nil)
	s := hold.Idle(ctx, ep(3))
	require.Equal(t, gnss.ModeFixed, s.Mode)
	require.Equal(t, [3]float64{1, 2, 4}, s.Position)
	require.Equal(t, ep(3), s.Epoch)
}

func TestParseContinuation(t *testing.T) {
	c, err := ParseContinuation("HOLD")
	require.NoError(t, err)
	require.Equal(t, ContinueHold, c)
	c, err = ParseContinuation("")
	require.NoError(t, err)
	require.Equal(t, ContinueNone, c)
	_, err = ParseContinuation("propagate")
	require.Error(t, err)
}
