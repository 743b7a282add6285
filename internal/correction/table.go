package correction

import (
	"context"
	"math"

	"gnss-replay/internal/gnss"
)

// TableFeed answers queries from correction rows held in memory, indexed by
// time of week at millisecond resolution. Rows keep their file order.
type TableFeed struct {
	byTOW map[int64][]gnss.CorrectionRecord
	rows  int
}

func NewTableFeed(recs []gnss.CorrectionRecord) *TableFeed {
	f := &TableFeed{byTOW: make(map[int64][]gnss.CorrectionRecord)}
	for _, rec := range recs {
		k := towKey(rec.TimeOfWeek)
		f.byTOW[k] = append(f.byTOW[k], rec)
	}
	f.rows = len(recs)
	return f
}

func towKey(tow float64) int64 { return int64(math.Round(tow * 1000)) }

// Len returns the number of rows loaded.
func (f *TableFeed) Len() int { return f.rows }

func (f *TableFeed) Query(ctx context.Context, q Query) ([]gnss.CorrectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := f.byTOW[towKey(q.TimeOfWeek)]
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]gnss.CorrectionRecord, 0, len(rows))
	for _, rec := range rows {
		if q.matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}
