package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gnss-replay/internal/aggregate"
	"gnss-replay/internal/convergence"
)

func TestWriteRunText(t *testing.T) {
	var buf bytes.Buffer
	s := RunSummary{
		Site: "kama",
		Result: convergence.Result{
			Samples:             120,
			HasReference:        true,
			Valid:               true,
			FloatRMS2D:          convergence.Some(0.123),
			ConvergenceIndex:    9,
			EpochsToConvergence: 9,
			TimeToConvergence:   270 * time.Second,
			RMS2D:               convergence.Some(0.05),
			RMSUp:               convergence.Some(0.08),
		},
	}
	if err := WriteRun(&buf, s, Options{NoColor: true}); err != nil {
		t.Fatalf("WriteRun() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Solution statistics: kama",
		"RMS float 2D solution 12.3 cm",
		"Time until convergence  4.5 min (  9 epochs)",
		"RMS conv  2D solution  5.0 cm",
		"RMS conv  up solution  8.0 cm",
		"Error E mean  n/a std  n/a",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "RMS fixed") {
		t.Fatalf("fixed statistics printed without fixed samples:\n%s", out)
	}
}

func TestWriteRunWithoutReference(t *testing.T) {
	var buf bytes.Buffer
	s := RunSummary{Site: "noref", Result: convergence.Result{Samples: 2}}
	s.Result.Position[0] = convergence.AxisStats{Mean: convergence.Some(-3962108.5), Std: convergence.Some(0.25)}
	if err := WriteRun(&buf, s, Options{NoColor: true}); err != nil {
		t.Fatalf("WriteRun() error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "error statistics skipped") || !strings.Contains(out, "Position X mean -3962108.5000 std 0.2500 m") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestWriteSweepText(t *testing.T) {
	rep := aggregate.Report{
		Entries: []aggregate.Entry{
			{Site: "kama", TimeToConvergence: 2 * time.Minute, EpochsToConvergence: 4},
			{Site: "mizu", TimeToConvergence: 6 * time.Minute, EpochsToConvergence: 12},
		},
		Excluded: []string{"noref"},
		Mean:     4 * time.Minute,
		Std:      2 * time.Minute,
		P95:      5*time.Minute + 48*time.Second,
	}
	var buf bytes.Buffer
	if err := WriteSweep(&buf, rep, Options{NoColor: true}); err != nil {
		t.Fatalf("WriteSweep() error: %v", err)
	}
	out := buf.String()
	if strings.Index(out, "kama") > strings.Index(out, "mizu") {
		t.Fatalf("sites out of order:\n%s", out)
	}
	for _, want := range []string{"excluded: noref", "2 sites", "p95  5.8 min"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	s := RunSummary{Site: "kama", RunID: "r1", Result: convergence.Result{Samples: 3}}
	if err := WriteRun(&buf, s, Options{JSON: true, NoColor: true}); err != nil {
		t.Fatalf("WriteRun() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["site"] != "kama" {
		t.Fatalf("site=%v", got["site"])
	}
	res, ok := got["result"].(map[string]any)
	if !ok {
		t.Fatalf("result missing: %v", got)
	}
	if res["rms_2d"] != nil {
		t.Fatalf("unavailable statistic must be null, got %v", res["rms_2d"])
	}
}
