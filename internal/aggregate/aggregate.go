// Package aggregate joins per-site convergence results into sweep statistics.
package aggregate

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gnss-replay/internal/convergence"
)

type Entry struct {
	Site                string               `json:"site"`
	TimeToConvergence   time.Duration        `json:"time_to_convergence"`
	EpochsToConvergence int                  `json:"epochs_to_convergence"`
	AlreadyConverged    bool                 `json:"already_converged"`
	RMS2D               convergence.Optional `json:"rms_2d"`
	RMSUp               convergence.Optional `json:"rms_up"`
}

type Report struct {
	// Entries are sorted by TimeToConvergence, ties by site.
	Entries  []Entry  `json:"entries"`
	Excluded []string `json:"excluded,omitempty"`

	// Statistics over Entries; zero when there are none.
	Mean time.Duration `json:"mean"`
	Std  time.Duration `json:"std"`
	P95  time.Duration `json:"p95"`
}

// Aggregator collects results from concurrently running sites.
type Aggregator struct {
	mu       sync.Mutex
	logger   *zap.Logger
	results  map[string]convergence.Result
	excluded map[string]bool
}

func New(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		logger:   logger,
		results:  make(map[string]convergence.Result),
		excluded: make(map[string]bool),
	}
}

// Add records the result of one site. A result without a convergence point
// excludes the site; it is never counted as zero.
func (a *Aggregator) Add(site string, res convergence.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.results[site]; dup || a.excluded[site] {
		a.logger.Warn("replacing earlier result for site", zap.String("site", site))
		delete(a.results, site)
		delete(a.excluded, site)
	}
	if !res.Valid {
		a.logger.Warn("site excluded from aggregate: no convergence result",
			zap.String("site", site),
			zap.Int("samples", res.Samples),
			zap.Bool("has_reference", res.HasReference))
		a.excluded[site] = true
		return
	}
	a.results[site] = res
}

// Exclude marks a site that failed before producing any result.
func (a *Aggregator) Exclude(site string, reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Warn("site excluded from aggregate", zap.String("site", site), zap.Error(reason))
	delete(a.results, site)
	a.excluded[site] = true
}

// Finalize builds the report. Call it after every site has been added.
func (a *Aggregator) Finalize() Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	var rep Report
	for site, res := range a.results {
		rep.Entries = append(rep.Entries, Entry{
			Site:                site,
			TimeToConvergence:   res.TimeToConvergence,
			EpochsToConvergence: res.EpochsToConvergence,
			AlreadyConverged:    res.AlreadyConverged,
			RMS2D:               res.RMS2D,
			RMSUp:               res.RMSUp,
		})
	}
	sort.Slice(rep.Entries, func(i, j int) bool {
		ei, ej := rep.Entries[i], rep.Entries[j]
		if ei.TimeToConvergence != ej.TimeToConvergence {
			return ei.TimeToConvergence < ej.TimeToConvergence
		}
		return ei.Site < ej.Site
	})
	for site := range a.excluded {
		rep.Excluded = append(rep.Excluded, site)
	}
	sort.Strings(rep.Excluded)

	if len(rep.Entries) == 0 {
		return rep
	}
	secs := make([]float64, 0, len(rep.Entries))
	for _, e := range rep.Entries {
		secs = append(secs, e.TimeToConvergence.Seconds())
	}
	mean := convergence.Mean(secs)
	rep.Mean = seconds(mean)
	rep.Std = seconds(convergence.StdDev(secs, mean))
	rep.P95 = seconds(Percentile(secs, 95))
	return rep
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Percentile interpolates linearly between the closest ranks of sorted
// values (the same definition numpy uses by default).
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}
