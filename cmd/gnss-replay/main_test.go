package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"gnss-replay/internal/gnss"
	"gnss-replay/internal/replay"
)

var t0 = time.Date(2025, 8, 21, 7, 0, 0, 0, time.UTC)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&app{logger: zap.NewNop()})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeSolutionLog writes a float series at interval whose horizontal error
// is 0.15 m up to index last and 0.05 m after it.
func writeSolutionLog(t *testing.T, path string, n, last int, interval time.Duration) {
	t.Helper()
	w, err := replay.CreateSolutionWriter(path)
	if err != nil {
		t.Fatalf("CreateSolutionWriter() error: %v", err)
	}
	for i := 0; i < n; i++ {
		e := 0.05
		if i <= last {
			e = 0.15
		}
		s := gnss.SolutionSample{
			Epoch:    gnss.Epoch{Time: t0.Add(time.Duration(i) * interval)},
			Position: [3]float64{6378137, e, 0},
			Error:    gnss.ENU{E: e},
			HasError: true,
			Mode:     gnss.ModeFloat,
		}
		if err := w.WriteSample(s); err != nil {
			_ = w.Close()
			t.Fatalf("WriteSample() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestAnalyzeSingleLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kama.pos")
	writeSolutionLog(t, path, 20, 9, 30*time.Second)

	out, err := execute(t, "analyze", "--no-color", path)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	for _, want := range []string{
		"Solution statistics: kama",
		"Time until convergence  4.5 min (  9 epochs)",
		"RMS conv  2D solution  5.0 cm",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestAnalyzeRecomputesWithReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kama.pos")
	writeSolutionLog(t, path, 20, 9, 30*time.Second)

	// Against a reference 1 m away nothing converges below 10 cm, so the
	// last float sample is the convergence point.
	out, err := execute(t, "analyze", "--no-color", "--ref", "6378137,1,0", path)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	if !strings.Contains(out, "( 19 epochs)") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if _, err := execute(t, "analyze", "--ref", "1,2", path); err == nil {
		t.Fatalf("expected error for short --ref")
	}
}

func TestAnalyzeGlobAggregates(t *testing.T) {
	dir := t.TempDir()
	for i, last := range []int{1, 3, 5} {
		writeSolutionLog(t, filepath.Join(dir, fmt.Sprintf("s%d.pos", i)), 10, last, time.Minute)
	}
	if err := os.WriteFile(filepath.Join(dir, "noref.pos"), []byte("garbage mode\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	out, err := execute(t, "analyze", "--no-color", "--json", filepath.Join(dir, "*.pos"))
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	var rep struct {
		Entries []struct {
			Site string `json:"site"`
		} `json:"entries"`
		Excluded []string `json:"excluded"`
		Mean     int64    `json:"mean"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(rep.Entries) != 3 || rep.Entries[0].Site != "s0" || rep.Entries[2].Site != "s2" {
		t.Fatalf("entries=%+v", rep.Entries)
	}
	if len(rep.Excluded) != 1 || rep.Excluded[0] != "noref" {
		t.Fatalf("excluded=%v", rep.Excluded)
	}
	if time.Duration(rep.Mean) != 3*time.Minute {
		t.Fatalf("mean=%s want 3m", time.Duration(rep.Mean))
	}
}

func TestSiteIDs(t *testing.T) {
	got := siteIDs([]string{"logs/a/run.pos", "logs/b/run.pos", "logs/kama.pos"})
	want := []string{"logs/a/run", "logs/b/run", "kama"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("siteIDs()=%v want %v", got, want)
		}
	}
}

func TestAnalyzeSameBaseNameInTwoDirs(t *testing.T) {
	dir := t.TempDir()
	for i, sub := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("Mkdir() error: %v", err)
		}
		writeSolutionLog(t, filepath.Join(dir, sub, "run.pos"), 10, 2*i+1, time.Minute)
	}

	out, err := execute(t, "analyze", "--json", filepath.Join(dir, "*", "run.pos"))
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	var rep struct {
		Entries []struct {
			Site string `json:"site"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(rep.Entries) != 2 {
		t.Fatalf("entries=%+v want 2", rep.Entries)
	}
	if !strings.HasSuffix(rep.Entries[0].Site, "a/run") || !strings.HasSuffix(rep.Entries[1].Site, "b/run") {
		t.Fatalf("entries=%+v", rep.Entries)
	}
}

func TestAnalyzeNoMatch(t *testing.T) {
	_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "*.pos"))
	if err == nil || !strings.HasPrefix(err.Error(), "no files match") {
		t.Fatalf("err=%v", err)
	}
}

// writeRunInputs writes a PPP-B2b correction log whose code biases arrive
// at epoch 3, a recorded solution log and a config using both.
func writeRunInputs(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	week, tow := gnss.TimeOfWeek(t0)

	corr := filepath.Join(dir, "b2b.txt")
	cw, err := replay.CreateCorrectionWriter(corr)
	if err != nil {
		t.Fatalf("CreateCorrectionWriter() error: %v", err)
	}
	for _, r := range []gnss.CorrectionRecord{
		b2bRecord(week, tow, 1, 61),
		b2bRecord(week, tow, 2, 61),
		b2bRecord(week, tow, 4, 61),
		b2bRecord(week, tow+3, 3, 61),
	} {
		if err := cw.WriteRecord(r); err != nil {
			_ = cw.Close()
			t.Fatalf("WriteRecord() error: %v", err)
		}
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	sol := filepath.Join(dir, "solver.pos")
	writeSolutionLog(t, sol, 10, 5, time.Second)

	cfg := filepath.Join(dir, "replay.yaml")
	body := "service:\n  name: b2b\n  path: " + corr + "\n" +
		"run:\n  start: '2025-08-21 07:00:00'\n  epochs: 10\n" +
		"solver:\n  path: " + sol + "\n" +
		"reference: [6378137, 0, 0]\n" +
		"output:\n  metrics_file: " + filepath.Join(dir, "replay.prom") + "\n" + extra
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return cfg
}

func TestRunCommand(t *testing.T) {
	cfg := writeRunInputs(t, "")
	out, err := execute(t, "run", "--no-color", "--config", cfg)
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Solution statistics: default") ||
		!strings.Contains(out, "Time until convergence  0.1 min (  5 epochs)") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	prom, err := os.ReadFile(filepath.Join(filepath.Dir(cfg), "replay.prom"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.Contains(string(prom), `gnss_replay_solver_invocations_total{kind="process",site="default"} 7`) {
		t.Fatalf("metrics missing invocations:\n%s", prom)
	}
}

func TestRunCommandUnknownSite(t *testing.T) {
	cfg := writeRunInputs(t, "")
	_, err := execute(t, "run", "--config", cfg, "--site", "mizu")
	if err == nil || err.Error() != `site "mizu" is not configured` {
		t.Fatalf("err=%v", err)
	}
}

func TestSweepCommand(t *testing.T) {
	cfg := writeRunInputs(t, "sites:\n  - id: kama\n  - id: mizu\n")
	out, err := execute(t, "sweep", "--no-color", "--workers", "2", "--config", cfg)
	if err != nil {
		t.Fatalf("sweep error: %v\n%s", err, out)
	}
	for _, want := range []string{"Convergence by site", "kama", "mizu", "2 sites"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestConfigErrorIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("mode: ppp\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	_, err := execute(t, "sweep", "--config", path)
	if err == nil || err.Error() != "config load failed: service.name is required" {
		t.Fatalf("err=%v", err)
	}
}
