// Package report renders end-of-run statistics for people (colored text)
// and for tools (JSON).
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"

	"gnss-replay/internal/aggregate"
	"gnss-replay/internal/convergence"
)

type Options struct {
	JSON    bool
	NoColor bool
}

type printer struct {
	w       io.Writer
	heading *color.Color
	good    *color.Color
	warn    *color.Color
	err     error
}

func newPrinter(w io.Writer, opts Options) *printer {
	p := &printer{
		w:       w,
		heading: color.New(color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
	}
	if opts.NoColor {
		p.heading.DisableColor()
		p.good.DisableColor()
		p.warn.DisableColor()
	}
	return p
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func cm(o convergence.Optional) string {
	if !o.Valid {
		return " n/a"
	}
	return fmt.Sprintf("%4.1f cm", o.Value*1e2)
}

func minutes(d time.Duration) string { return fmt.Sprintf("%4.1f min", d.Minutes()) }

// RunSummary is the JSON shape of one run's report.
type RunSummary struct {
	Site   string             `json:"site"`
	RunID  string             `json:"run_id,omitempty"`
	Result convergence.Result `json:"result"`
}

// WriteRun prints the statistics block of one run.
func WriteRun(w io.Writer, s RunSummary, opts Options) error {
	if opts.JSON {
		return writeJSON(w, s, opts)
	}
	p := newPrinter(w, opts)
	res := s.Result

	p.printf("%s\n\n", p.heading.Sprintf("Solution statistics: %s", s.Site))
	p.printf("Samples               %d\n", res.Samples)
	if !res.HasReference {
		p.printf("%s\n", p.warn.Sprint("No reference position: error statistics skipped"))
		for i, axis := range []string{"X", "Y", "Z"} {
			a := res.Position[i]
			p.printf("Position %s mean %s std %s m\n", axis, a.Mean, a.Std)
		}
		return p.err
	}

	p.printf("RMS float 2D solution %s\n", cm(res.FloatRMS2D))
	if res.FixedRMS2D.Valid {
		p.printf("RMS fixed 2D solution %s\n", cm(res.FixedRMS2D))
		p.printf("RMS fixed up solution %s\n", cm(res.FixedRMSUp))
	}
	p.printf("\n")

	ttc := fmt.Sprintf("%s (%3d epochs)", minutes(res.TimeToConvergence), res.EpochsToConvergence)
	if res.AlreadyConverged {
		ttc += " already converged"
	}
	p.printf("Time until convergence %s\n", p.good.Sprint(ttc))
	p.printf("RMS conv  2D solution %s\n", cm(res.RMS2D))
	p.printf("RMS conv  up solution %s\n", cm(res.RMSUp))
	for i, axis := range []string{"E", "N", "U"} {
		a := res.Axes[i]
		p.printf("Error %s mean %s std %s\n", axis, cm(a.Mean), cm(a.Std))
	}
	return p.err
}

// WriteSweep prints the per-site table and the cross-site statistics.
func WriteSweep(w io.Writer, rep aggregate.Report, opts Options) error {
	if opts.JSON {
		return writeJSON(w, rep, opts)
	}
	p := newPrinter(w, opts)
	p.printf("%s\n\n", p.heading.Sprint("Convergence by site"))
	for _, e := range rep.Entries {
		p.printf("%-12s %s (%4d epochs)  2D %s  up %s\n",
			e.Site, minutes(e.TimeToConvergence), e.EpochsToConvergence, cm(e.RMS2D), cm(e.RMSUp))
	}
	if len(rep.Excluded) > 0 {
		p.printf("%s\n", p.warn.Sprintf("excluded: %s", strings.Join(rep.Excluded, ", ")))
	}
	if len(rep.Entries) == 0 {
		p.printf("\nno site converged\n")
		return p.err
	}
	p.printf("\n%s\n", p.heading.Sprintf("%d sites", len(rep.Entries)))
	p.printf("mean %s  std %s  p95 %s\n", minutes(rep.Mean), minutes(rep.Std), minutes(rep.P95))
	return p.err
}

func writeJSON(w io.Writer, v any, opts Options) error {
	f := prettyjson.NewFormatter()
	f.DisabledColor = opts.NoColor
	b, err := f.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
