package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gnss-replay/internal/gnss"
)

// Solution log format: one line per processed epoch,
//
//	2025-08-21 07:00:01.000  -3962108.6836 3381309.5672 3668678.6720 ENU   0.012  -0.034   0.101, 2D  0.036, mode 5, ns 14
//
// ECEF position, reference-relative ENU error, horizontal error, solution
// status code and satellite count. ENU columns are NaN when no reference is
// configured or there is no solution. Lines without a "mode" column
// (headers, comments) are skipped by the reader, so logs written by the
// positioning solver itself can be analyzed as well.

const solutionTimeLayout = "2006-01-02 15:04:05.000"

type SolutionWriter struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func CreateSolutionWriter(path string) (*SolutionWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &SolutionWriter{f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

// WriteHeader writes a "key: value" line ahead of the epoch records.
func (sw *SolutionWriter) WriteHeader(key, value string) error {
	if sw.closed {
		return errors.New("solution writer is closed")
	}
	_, err := fmt.Fprintf(sw.w, "%-8s: %s\n", key, value)
	return err
}

func (sw *SolutionWriter) WriteSample(s gnss.SolutionSample) error {
	if sw.closed {
		return errors.New("solution writer is closed")
	}
	return writeSolutionLine(sw.w, s)
}

func writeSolutionLine(w io.Writer, s gnss.SolutionSample) error {
	e, n, u, h := math.NaN(), math.NaN(), math.NaN(), math.NaN()
	if s.HasError {
		e, n, u, h = s.Error.E, s.Error.N, s.Error.U, s.Error.Horizontal()
	}
	_, err := fmt.Fprintf(w, "%s %14.4f %14.4f %14.4f ENU %7.3f %7.3f %7.3f, 2D %6.3f, mode %1d, ns %d\n",
		s.Epoch.Time.UTC().Format(solutionTimeLayout),
		s.Position[0], s.Position[1], s.Position[2],
		e, n, u, h,
		s.Mode.LogCode(),
		s.Satellites)
	return err
}

func (sw *SolutionWriter) Flush() error {
	if sw.closed {
		return nil
	}
	return sw.w.Flush()
}

func (sw *SolutionWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true
	if err := sw.w.Flush(); err != nil {
		_ = sw.f.Close()
		return err
	}
	return sw.f.Close()
}

type SolutionReader struct {
	r io.Reader
}

func NewSolutionReader(r io.Reader) *SolutionReader {
	return &SolutionReader{r: r}
}

// ReadAll returns the samples in file order with Epoch.Index set to the
// record sequence. Rows that carry a mode column but do not parse are counted
// in ReadStats.Malformed.
func (sr *SolutionReader) ReadAll() ([]gnss.SolutionSample, ReadStats, error) {
	var st ReadStats
	s := bufio.NewScanner(sr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	out := make([]gnss.SolutionSample, 0, 3600)
	for s.Scan() {
		line := s.Text()
		if !strings.Contains(line, "mode") {
			continue
		}
		st.Lines++
		sample, err := parseSolutionLine(line)
		if err != nil {
			st.Malformed++
			if st.FirstMalformed == "" {
				st.FirstMalformed = line
			}
			continue
		}
		sample.Epoch.Index = len(out)
		out = append(out, sample)
	}
	if err := s.Err(); err != nil {
		return nil, st, err
	}
	st.Records = len(out)
	return out, st, nil
}

func parseSolutionLine(line string) (gnss.SolutionSample, error) {
	f := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(f) < 13 || f[5] != "ENU" || f[9] != "2D" || f[11] != "mode" {
		return gnss.SolutionSample{}, fmt.Errorf("invalid solution line: %q", line)
	}

	// Fractional seconds are accepted even though the layout omits them.
	ts, err := time.Parse("2006-01-02 15:04:05", f[0]+" "+f[1])
	if err != nil {
		ts, err = time.Parse("2006/01/02 15:04:05", f[0]+" "+f[1])
		if err != nil {
			return gnss.SolutionSample{}, fmt.Errorf("invalid solution time: %w", err)
		}
	}

	var out gnss.SolutionSample
	out.Epoch = gnss.Epoch{Time: ts, HasObs: true}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(f[2+i], 64)
		if err != nil {
			return gnss.SolutionSample{}, fmt.Errorf("invalid position: %w", err)
		}
		out.Position[i] = v
	}

	var enu [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(f[6+i], 64)
		if err != nil {
			return gnss.SolutionSample{}, fmt.Errorf("invalid enu: %w", err)
		}
		enu[i] = v
	}

	code, err := strconv.Atoi(f[12])
	if err != nil {
		return gnss.SolutionSample{}, fmt.Errorf("invalid mode: %w", err)
	}
	out.Mode, err = gnss.ModeFromLogCode(code)
	if err != nil {
		return gnss.SolutionSample{}, err
	}

	if len(f) >= 15 && f[13] == "ns" {
		if ns, err := strconv.Atoi(f[14]); err == nil {
			out.Satellites = ns
		}
	}

	if out.Mode != gnss.ModeNone && !math.IsNaN(enu[0]) && !math.IsNaN(enu[1]) && !math.IsNaN(enu[2]) {
		out.Error = gnss.ENU{E: enu[0], N: enu[1], U: enu[2]}
		out.HasError = true
	}
	return out, nil
}

// ReadSolutionFile opens path and reads every epoch record.
func ReadSolutionFile(path string) ([]gnss.SolutionSample, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer f.Close()
	return NewSolutionReader(f).ReadAll()
}
