// Package history records every persisted image and completion check in a
// SQLite database so operators can audit past sessions.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ImageRecord is one attempted image write.
type ImageRecord struct {
	Serial     string    `json:"serial"`
	Date       string    `json:"date"`
	Step       string    `json:"step"`
	CameraID   int       `json:"camera_id"`
	Operator   string    `json:"operator"`
	Path       string    `json:"path,omitempty"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CheckRecord is one completion check outcome.
type CheckRecord struct {
	Serial     string    `json:"serial"`
	Date       string    `json:"date"`
	Expected   int       `json:"expected"`
	Count      int       `json:"count"`
	Result     string    `json:"result"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Session summarizes activity for one serial on one day.
type Session struct {
	Serial     string    `json:"serial"`
	Date       string    `json:"date"`
	Images     int       `json:"images"`
	Failures   int       `json:"failures"`
	LastResult string    `json:"last_result"`
	LastSeen   time.Time `json:"last_seen"`
}

// Store manages capture history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the history database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start fresh)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// RecordImage appends an image write attempt.
func (s *Store) RecordImage(ctx context.Context, rec ImageRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (serial, session_date, step, camera_id, operator, path, bytes, error_message, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Serial, rec.Date, rec.Step, rec.CameraID, rec.Operator,
		nullableString(rec.Path), rec.Bytes, nullableString(rec.Error),
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}
	return nil
}

// RecordCheck appends a completion check outcome.
func (s *Store) RecordCheck(ctx context.Context, rec CheckRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (serial, session_date, expected, file_count, result, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Serial, rec.Date, rec.Expected, rec.Count, rec.Result,
		rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert check record: %w", err)
	}
	return nil
}

// Sessions returns the most recently active sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT i.serial, i.session_date,
               SUM(CASE WHEN i.error_message IS NULL THEN 1 ELSE 0 END),
               SUM(CASE WHEN i.error_message IS NULL THEN 0 ELSE 1 END),
               MAX(i.recorded_at),
               COALESCE((SELECT c.result FROM checks c
                         WHERE c.serial = i.serial AND c.session_date = i.session_date
                         ORDER BY c.id DESC LIMIT 1), '')
        FROM images i
        GROUP BY i.serial, i.session_date
        ORDER BY MAX(i.recorded_at) DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess     Session
			lastSeen string
		)
		if err := rows.Scan(&sess.Serial, &sess.Date, &sess.Images, &sess.Failures, &lastSeen, &sess.LastResult); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.LastSeen = parseTime(lastSeen)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionImages lists image records for one session in write order.
func (s *Store) SessionImages(ctx context.Context, serial, date string) ([]ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT serial, session_date, step, camera_id, operator,
               COALESCE(path, ''), bytes, COALESCE(error_message, ''), recorded_at
        FROM images WHERE serial = ? AND session_date = ? ORDER BY id`, serial, date)
	if err != nil {
		return nil, fmt.Errorf("query session images: %w", err)
	}
	defer rows.Close()

	var out []ImageRecord
	for rows.Next() {
		var (
			rec        ImageRecord
			recordedAt string
		)
		if err := rows.Scan(&rec.Serial, &rec.Date, &rec.Step, &rec.CameraID, &rec.Operator,
			&rec.Path, &rec.Bytes, &rec.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan image record: %w", err)
		}
		rec.RecordedAt = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
