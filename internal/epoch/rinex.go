package epoch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gnss-replay/internal/gnss"
)

// RinexSource reads epoch headers from a RINEX 3 observation file:
//
//	> 2025 08 21 07 00  0.0000000  0 35
//
// Observation body lines are skipped; decoding them is the solver's job.
// Event records (flags 2-5) and cycle-slip records (flag 6) are not epochs.
// An unparsable epoch line yields an ErrBadEpoch error; only scanner I/O
// errors end the source.
type RinexSource struct {
	s      *bufio.Scanner
	closer io.Closer
	line   int
}

// NewRinexSource consumes the header from r and fails unless it declares
// an observation file of version 3 or later.
func NewRinexSource(r io.Reader) (*RinexSource, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	rs := &RinexSource{s: s}

	sawVersion := false
	for s.Scan() {
		rs.line++
		line := s.Text()
		label := ""
		if len(line) > 60 {
			label = strings.TrimSpace(line[60:])
		}
		switch label {
		case "RINEX VERSION / TYPE":
			v, err := strconv.ParseFloat(strings.TrimSpace(line[:9]), 64)
			if err != nil {
				return nil, fmt.Errorf("rinex version: %w", err)
			}
			if v < 3 {
				return nil, fmt.Errorf("rinex version %.2f not supported (need >= 3)", v)
			}
			if len(line) > 20 && line[20] != 'O' {
				return nil, fmt.Errorf("not an observation file (type %q)", line[20:21])
			}
			sawVersion = true
		case "END OF HEADER":
			if !sawVersion {
				return nil, fmt.Errorf("rinex header has no version line")
			}
			return rs, nil
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("rinex header not terminated")
}

// OpenRinex opens path; the file is closed when the source is exhausted or
// on Close.
func OpenRinex(path string) (*RinexSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rs, err := NewRinexSource(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rs.closer = f
	return rs, nil
}

func (rs *RinexSource) Close() error {
	if rs.closer == nil {
		return nil
	}
	c := rs.closer
	rs.closer = nil
	return c.Close()
}

func (rs *RinexSource) Next() (gnss.Epoch, error) {
	for rs.s.Scan() {
		rs.line++
		line := rs.s.Text()
		if !strings.HasPrefix(line, ">") {
			continue
		}
		ep, flag, err := parseEpochLine(line)
		if err != nil {
			// The scanner has moved past the line; the next call resumes at
			// the following record.
			return gnss.Epoch{}, fmt.Errorf("%w: rinex line %d: %w", ErrBadEpoch, rs.line, err)
		}
		if flag > 1 {
			continue
		}
		return ep, nil
	}
	if err := rs.s.Err(); err != nil {
		return gnss.Epoch{}, err
	}
	_ = rs.Close()
	return gnss.Epoch{}, io.EOF
}

func parseEpochLine(line string) (gnss.Epoch, int, error) {
	f := strings.Fields(line[1:])
	if len(f) < 8 {
		return gnss.Epoch{}, 0, fmt.Errorf("invalid epoch line %q", line)
	}
	var ymdhm [5]int
	for i := range ymdhm {
		v, err := strconv.Atoi(f[i])
		if err != nil {
			return gnss.Epoch{}, 0, fmt.Errorf("invalid epoch field %q: %w", f[i], err)
		}
		ymdhm[i] = v
	}
	secs, err := strconv.ParseFloat(f[5], 64)
	if err != nil {
		return gnss.Epoch{}, 0, fmt.Errorf("invalid epoch seconds %q: %w", f[5], err)
	}
	flag, err := strconv.Atoi(f[6])
	if err != nil {
		return gnss.Epoch{}, 0, fmt.Errorf("invalid epoch flag %q: %w", f[6], err)
	}
	nsat, err := strconv.Atoi(f[7])
	if err != nil {
		return gnss.Epoch{}, 0, fmt.Errorf("invalid satellite count %q: %w", f[7], err)
	}

	t := time.Date(ymdhm[0], time.Month(ymdhm[1]), ymdhm[2], ymdhm[3], ymdhm[4], 0, 0, time.UTC).
		Add(time.Duration(secs * float64(time.Second)).Round(time.Microsecond))
	return gnss.Epoch{Time: t, HasObs: nsat > 0}, flag, nil
}
