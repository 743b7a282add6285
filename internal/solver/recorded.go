package solver

import (
	"context"
	"time"

	"gnss-replay/internal/gnss"
	"gnss-replay/internal/replay"
	"gnss-replay/internal/tracker"
)

// Recorded replays a solution log written by the positioning filter when it
// processed the same data. Epochs missing from the log report no solution.
type Recorded struct {
	byTime map[int64]gnss.SolutionSample
	hold   Hold
}

func NewRecorded(samples []gnss.SolutionSample, policy Continuation) *Recorded {
	r := &Recorded{
		byTime: make(map[int64]gnss.SolutionSample, len(samples)),
		hold:   Hold{Policy: policy},
	}
	for _, s := range samples {
		r.byTime[timeKey(s.Epoch.Time)] = s
	}
	return r
}

// OpenRecorded loads the solution log at path.
func OpenRecorded(path string, policy Continuation) (*Recorded, error) {
	samples, _, err := replay.ReadSolutionFile(path)
	if err != nil {
		return nil, err
	}
	return NewRecorded(samples, policy), nil
}

func timeKey(t time.Time) int64 { return t.Round(time.Millisecond).UnixMilli() }

func (r *Recorded) Len() int { return len(r.byTime) }

func (r *Recorded) Process(ctx context.Context, ep gnss.Epoch, _ *tracker.Cells) (gnss.SolutionSample, error) {
	if err := ctx.Err(); err != nil {
		return gnss.SolutionSample{}, err
	}
	s, ok := r.byTime[timeKey(ep.Time)]
	if !ok {
		return gnss.SolutionSample{Epoch: ep, Mode: gnss.ModeNone}, nil
	}
	s.Epoch = ep
	r.hold.Remember(s)
	return s, nil
}

func (r *Recorded) Idle(_ context.Context, ep gnss.Epoch) gnss.SolutionSample {
	return r.hold.Idle(ep)
}
