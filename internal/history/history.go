// Package history persists telemetry samples to SQLite so a session can be
// looked at after the device is gone.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"adbdash/internal/telemetry"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store records samples. A nil *Store is a disabled store: Record is a
// no-op and Recent returns nothing.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database at path. An empty path disables
// recording and returns nil, nil.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: ensure dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "history").Logger()}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    serial TEXT NOT NULL,
    metric TEXT NOT NULL,
    value REAL NOT NULL,
    observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_serial_metric ON samples (serial, metric, observed_at);`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one sample for the device serial.
func (s *Store) Record(ctx context.Context, serial string, sample telemetry.Sample) error {
	if s == nil || s.db == nil {
		return nil
	}
	if serial == "" {
		return errors.New("history: empty serial")
	}
	at := sample.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (serial, metric, value, observed_at) VALUES (?, ?, ?, ?)`,
		serial, string(sample.Metric), sample.Value, at.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Sink adapts Record to a sampler sink. Insert failures are logged.
func (s *Store) Sink(ctx context.Context, serial string) func(telemetry.Sample) {
	return func(sample telemetry.Sample) {
		if err := s.Record(ctx, serial, sample); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("metric", string(sample.Metric)).Msg("record sample")
		}
	}
}

// Recent returns up to limit samples of metric, newest first.
func (s *Store) Recent(ctx context.Context, serial string, metric telemetry.Metric, limit int) ([]telemetry.Sample, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT value, observed_at FROM samples
WHERE serial = ? AND metric = ?
ORDER BY observed_at DESC, id DESC
LIMIT ?`, serial, string(metric), limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Sample
	for rows.Next() {
		var (
			value float64
			at    int64
		)
		if err := rows.Scan(&value, &at); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, telemetry.Sample{Metric: metric, Value: value, Time: time.UnixMilli(at)})
	}
	return out, rows.Err()
}

// Prune deletes samples older than cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE observed_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}
