package correction

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"gnss-replay/internal/gnss"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS corrections (
	seq     INTEGER PRIMARY KEY,
	wn      INTEGER NOT NULL,
	tow_ms  INTEGER NOT NULL,
	prn     INTEGER NOT NULL,
	type    INTEGER NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS corrections_tow ON corrections (tow_ms, prn);
`

// SQLiteFeed stores correction rows in SQLite and answers epoch queries with
// an indexed lookup. Useful for multi-day tables that are too large to index
// in memory for every site of a sweep.
type SQLiteFeed struct {
	db *sql.DB
}

// OpenSQLiteFeed opens (or creates) the database at dsn. ":memory:" gives a
// private in-memory table.
func OpenSQLiteFeed(ctx context.Context, dsn string) (*SQLiteFeed, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// Every pooled connection to ":memory:" would see its own empty database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create correction schema: %w", err)
	}
	return &SQLiteFeed{db: db}, nil
}

// Load appends rows in one transaction.
func (f *SQLiteFeed) Load(ctx context.Context, recs []gnss.CorrectionRecord) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO corrections (wn, tow_ms, prn, type, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.Week, towKey(rec.TimeOfWeek), rec.Source, rec.MessageType, rec.Payload); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", rec, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored rows.
func (f *SQLiteFeed) Count(ctx context.Context) (int, error) {
	var n int
	err := f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrections`).Scan(&n)
	return n, err
}

func (f *SQLiteFeed) Query(ctx context.Context, q Query) ([]gnss.CorrectionRecord, error) {
	query := `SELECT wn, tow_ms, prn, type, payload FROM corrections WHERE tow_ms = ?`
	args := []any{towKey(q.TimeOfWeek)}
	if !q.Sources.Any() {
		query += ` AND prn BETWEEN ? AND ?`
		args = append(args, q.Sources.Min, q.Sources.Max)
	}
	query += ` ORDER BY seq`

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	var out []gnss.CorrectionRecord
	for rows.Next() {
		var (
			rec   gnss.CorrectionRecord
			towMS int64
		)
		if err := rows.Scan(&rec.Week, &towMS, &rec.Source, &rec.MessageType, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan correction row: %w", err)
		}
		if !q.Types.Contains(rec.MessageType) {
			continue
		}
		rec.TimeOfWeek = float64(towMS) / 1000
		rec.Kind = gnss.KindOther
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (f *SQLiteFeed) Close() error { return f.db.Close() }
