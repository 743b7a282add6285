package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gnss-replay/internal/gnss"
)

// Correction log format: line-oriented text, one message instance per row.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Data lines are whitespace separated: <wn> <tow> <prn> <type> [extra...] <hex>
//   The optional middle columns (payload length, SBAS marker) are not used;
//   the payload is always the last column.
//
// This is the receiver-log layout produced by the correction capture tools.
// A row that does not parse is counted as malformed and skipped; it never
// stops the read.

// ReadStats describes what ReadAll saw.
type ReadStats struct {
	Lines     int
	Records   int
	Malformed int
	// FirstMalformed holds the first rejected line, for diagnostics.
	FirstMalformed string
}

type CorrectionReader struct {
	r io.Reader
}

func NewCorrectionReader(r io.Reader) *CorrectionReader {
	return &CorrectionReader{r: r}
}

func (cr *CorrectionReader) ReadAll() ([]gnss.CorrectionRecord, ReadStats, error) {
	var st ReadStats
	s := bufio.NewScanner(cr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]gnss.CorrectionRecord, 0, 4096)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		st.Lines++

		rec, err := parseCorrectionLine(line)
		if err != nil {
			st.Malformed++
			if st.FirstMalformed == "" {
				st.FirstMalformed = line
			}
			continue
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, st, err
	}
	st.Records = len(recs)
	return recs, st, nil
}

func parseCorrectionLine(line string) (gnss.CorrectionRecord, error) {
	f := strings.Fields(line)
	if len(f) < 5 {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid correction line (want >=5 fields): %q", line)
	}
	wn, err := strconv.Atoi(f[0])
	if err != nil {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid week %q: %w", f[0], err)
	}
	tow, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid tow %q: %w", f[1], err)
	}
	if tow < 0 {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid tow (negative): %v", tow)
	}
	prn, err := strconv.Atoi(f[2])
	if err != nil {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid prn %q: %w", f[2], err)
	}
	typ, err := strconv.Atoi(f[3])
	if err != nil {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid type %q: %w", f[3], err)
	}

	payload, err := hex.DecodeString(f[len(f)-1])
	if err != nil {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid hex payload: %w", err)
	}
	if len(payload) == 0 {
		return gnss.CorrectionRecord{}, fmt.Errorf("invalid payload (empty)")
	}

	return gnss.CorrectionRecord{
		Source:      prn,
		Week:        wn,
		TimeOfWeek:  tow,
		MessageType: typ,
		Payload:     payload,
		Kind:        gnss.KindOther,
	}, nil
}

// ReadCorrectionFile opens path and reads every row.
func ReadCorrectionFile(path string) ([]gnss.CorrectionRecord, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer f.Close()
	return NewCorrectionReader(f).ReadAll()
}

type CorrectionWriter struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func CreateCorrectionWriter(path string) (*CorrectionWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("# wn tow prn type len nav\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &CorrectionWriter{f: f, w: bw}, nil
}

func (cw *CorrectionWriter) WriteRecord(rec gnss.CorrectionRecord) error {
	if cw.closed {
		return errors.New("correction writer is closed")
	}
	if len(rec.Payload) == 0 {
		return errors.New("payload is empty")
	}
	_, err := fmt.Fprintf(cw.w, "%d %s %d %d %d %s\n",
		rec.Week,
		strconv.FormatFloat(rec.TimeOfWeek, 'f', -1, 64),
		rec.Source,
		rec.MessageType,
		len(rec.Payload),
		hex.EncodeToString(rec.Payload))
	return err
}

func (cw *CorrectionWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	if err := cw.w.Flush(); err != nil {
		_ = cw.f.Close()
		return err
	}
	return cw.f.Close()
}
