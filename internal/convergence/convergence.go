// Package convergence reduces the solution series of one run to accuracy and
// time-to-convergence statistics.
package convergence

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gnss-replay/internal/gnss"
)

// DefaultLimit is the horizontal error (metres) a float solution must stay
// under to count as converged.
const DefaultLimit = 0.1

// Optional is a statistic that may be undefined, e.g. the RMS of an empty
// set. It marshals to null when not available.
type Optional struct {
	Value float64
	Valid bool
}

func Some(v float64) Optional { return Optional{Value: v, Valid: true} }

func (o Optional) String() string {
	if !o.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", o.Value)
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Optional{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// AxisStats is the mean and population standard deviation of one axis.
type AxisStats struct {
	Mean Optional `json:"mean"`
	Std  Optional `json:"std"`
}

type Options struct {
	// Limit on horizontal error; zero means DefaultLimit.
	Limit float64
}

type Result struct {
	Samples int `json:"samples"`
	// HasReference is false when no sample carries an error vector.
	HasReference bool `json:"has_reference"`
	// Valid results carry a convergence point and enter aggregates.
	Valid bool `json:"valid"`

	FloatRMS2D Optional `json:"float_rms_2d"`
	FixedRMS2D Optional `json:"fixed_rms_2d"`
	FixedRMSUp Optional `json:"fixed_rms_up"`

	// ConvergenceIndex is the index into the full series of the last float
	// sample over the limit, or 0 when AlreadyConverged.
	ConvergenceIndex    int           `json:"convergence_index"`
	AlreadyConverged    bool          `json:"already_converged"`
	TimeToConvergence   time.Duration `json:"time_to_convergence"`
	EpochsToConvergence int           `json:"epochs_to_convergence"`

	// Post-convergence window statistics, E/N/U.
	Window int          `json:"window"`
	Axes   [3]AxisStats `json:"axes"`
	RMS2D  Optional     `json:"rms_2d"`
	RMSUp  Optional     `json:"rms_up"`

	// Position is the ECEF mean/std over every solution, reported with or
	// without a reference.
	Position [3]AxisStats `json:"position"`
}

// Analyze computes the statistics of one run's samples, in epoch order.
//
// The convergence point is the last float sample whose horizontal error
// exceeds the limit, so a late re-divergence moves it later. The window
// after it excludes samples without a solution. When no float sample ever
// exceeds the limit the run counts as converged from the start and the
// window covers the whole series.
func Analyze(samples []gnss.SolutionSample, opts Options) Result {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	res := Result{Samples: len(samples)}

	var (
		solved              []gnss.SolutionSample
		float2D, fix2D, fixU []float64
		withError           bool
	)
	for _, s := range samples {
		if s.Mode == gnss.ModeNone {
			continue
		}
		solved = append(solved, s)
		if !s.HasError {
			continue
		}
		withError = true
		switch s.Mode {
		case gnss.ModeFloat:
			float2D = append(float2D, s.Error.Horizontal())
		case gnss.ModeFixed:
			fix2D = append(fix2D, s.Error.Horizontal())
			fixU = append(fixU, s.Error.U)
		}
	}
	res.Position = positionStats(solved)
	res.HasReference = withError
	if !withError {
		return res
	}

	res.FloatRMS2D = rms(float2D)
	res.FixedRMS2D = rms(fix2D)
	res.FixedRMSUp = rms(fixU)

	idx := -1
	for i, s := range samples {
		if s.Mode == gnss.ModeFloat && s.HasError && s.Error.Horizontal() > limit {
			idx = i
		}
	}
	start := idx + 1
	if idx < 0 {
		res.AlreadyConverged = true
		idx, start = 0, 0
	}
	res.ConvergenceIndex = idx
	res.EpochsToConvergence = idx
	res.TimeToConvergence = samples[idx].Epoch.Time.Sub(samples[0].Epoch.Time)

	var axes [3][]float64
	var h []float64
	for _, s := range samples[start:] {
		if s.Mode == gnss.ModeNone || !s.HasError {
			continue
		}
		for i := range axes {
			axes[i] = append(axes[i], s.Error.Axis(i))
		}
		h = append(h, s.Error.Horizontal())
	}
	res.Window = len(h)
	for i := range axes {
		res.Axes[i] = axisStats(axes[i])
	}
	res.RMS2D = rms(h)
	res.RMSUp = rms(axes[2])
	res.Valid = true
	return res
}

func positionStats(samples []gnss.SolutionSample) [3]AxisStats {
	var out [3]AxisStats
	for i := range out {
		v := make([]float64, 0, len(samples))
		for _, s := range samples {
			v = append(v, s.Position[i])
		}
		out[i] = axisStats(v)
	}
	return out
}

// axisStats leaves Std unavailable below two samples.
func axisStats(v []float64) AxisStats {
	var st AxisStats
	if len(v) == 0 {
		return st
	}
	m := Mean(v)
	st.Mean = Some(m)
	if len(v) < 2 {
		return st
	}
	st.Std = Some(StdDev(v, m))
	return st
}

func Mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// StdDev is the population standard deviation around mean.
func StdDev(v []float64, mean float64) float64 {
	var s float64
	for _, x := range v {
		d := x - mean
		s += d * d
	}
	return math.Sqrt(s / float64(len(v)))
}

func rms(v []float64) Optional {
	if len(v) == 0 {
		return Optional{}
	}
	var s float64
	for _, x := range v {
		s += x * x
	}
	return Some(math.Sqrt(s / float64(len(v))))
}
