package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"lookback/internal/domain"
)

// SQLiteActivityStore implements domain.ActivityStore using SQLite.
//
// Timestamps are stored as local naive ISO-8601 strings, so lexicographic
// comparison equals chronological comparison and date/range filters work as
// plain string predicates.
type SQLiteActivityStore struct {
	db *sql.DB
}

// NewSQLiteActivityStore opens (or creates) a SQLite database at dbPath and
// runs the schema migration.
func NewSQLiteActivityStore(dbPath string) (*SQLiteActivityStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate activity db: %w", err)
	}
	return &SQLiteActivityStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS activities (
			id              TEXT PRIMARY KEY,
			timestamp       TEXT NOT NULL,
			screenshot_path TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			confidence      TEXT NOT NULL DEFAULT 'unknown',
			success         INTEGER NOT NULL DEFAULT 0,
			error           TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities (timestamp);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteActivityStore) Close() error {
	return s.db.Close()
}

// Append persists one cycle result.
func (s *SQLiteActivityStore) Append(ctx context.Context, res domain.CycleResult) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO activities (id, timestamp, screenshot_path, description, confidence, success, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
		res.ID, res.Timestamp, res.ScreenshotPath, res.Description,
		string(res.Confidence), boolToInt(res.Success), res.Error,
	)
	if err != nil {
		return domain.NewDomainError("store.append", domain.ErrStoreFailed, err.Error())
	}
	return nil
}

// Recent returns up to limit activities, newest first.
func (s *SQLiteActivityStore) Recent(ctx context.Context, limit int) ([]domain.CycleResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, screenshot_path, description, confidence, success, error FROM activities ORDER BY timestamp DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ByDate returns all activities on one calendar day (date is "2006-01-02"),
// oldest first.
func (s *SQLiteActivityStore) ByDate(ctx context.Context, date string) ([]domain.CycleResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, screenshot_path, description, confidence, success, error FROM activities WHERE timestamp LIKE ? ORDER BY timestamp, id",
		date+"%",
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// TimeRange returns all activities with start <= timestamp <= end, oldest
// first. Bounds use the same naive ISO-8601 layout the records carry.
func (s *SQLiteActivityStore) TimeRange(ctx context.Context, start, end string) ([]domain.CycleResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, screenshot_path, description, confidence, success, error FROM activities WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp, id",
		start, end,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Statistics aggregates totals over the whole store.
func (s *SQLiteActivityStore) Statistics(ctx context.Context) (domain.Statistics, error) {
	var (
		stats domain.Statistics
		first sql.NullString
		last  sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       MIN(timestamp),
		       MAX(timestamp)
		FROM activities
	`)
	if err := row.Scan(&stats.TotalActivities, &stats.SuccessfulAnalyses, &first, &last); err != nil {
		return domain.Statistics{}, err
	}
	stats.FailedAnalyses = stats.TotalActivities - stats.SuccessfulAnalyses
	if stats.TotalActivities > 0 {
		rate := float64(stats.SuccessfulAnalyses) / float64(stats.TotalActivities) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	stats.FirstActivity = first.String
	stats.LastActivity = last.String
	return stats, nil
}

// Prune deletes activities older than the cutoff and returns how many were
// removed.
func (s *SQLiteActivityStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM activities WHERE timestamp < ?",
		domain.FormatTimestamp(olderThan),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Checkpoint folds the WAL back into the main database file. Run from
// maintenance so the WAL does not grow without bound on long sessions.
func (s *SQLiteActivityStore) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Export streams every stored activity to w as a JSON array, oldest first.
func (s *SQLiteActivityStore) Export(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, screenshot_path, description, confidence, success, error FROM activities ORDER BY timestamp, id",
	)
	if err != nil {
		return err
	}
	results, err := collect(rows)
	if err != nil {
		return err
	}
	if results == nil {
		results = []domain.CycleResult{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func collect(rows *sql.Rows) ([]domain.CycleResult, error) {
	defer rows.Close()

	var results []domain.CycleResult
	for rows.Next() {
		var (
			res        domain.CycleResult
			confidence string
			success    int
		)
		if err := rows.Scan(&res.ID, &res.Timestamp, &res.ScreenshotPath, &res.Description, &confidence, &success, &res.Error); err != nil {
			return nil, err
		}
		res.Confidence = domain.Confidence(confidence)
		res.Success = success != 0
		results = append(results, res)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.ActivityStore = (*SQLiteActivityStore)(nil)
