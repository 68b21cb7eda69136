// Package telemetry keeps a local, append-only log of update coordinator
// events (lock contention, install results, PATH edits) in SQLite.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"kode/internal/debug"
	kerrors "kode/internal/errors"
)

const (
	// DBFileName is the event database under the kode home directory.
	DBFileName = "events.db"
	// MaxEvents caps the number of rows kept; older rows are pruned on insert.
	MaxEvents = 1000

	recordTimeout = 2 * time.Second
)

var errClosed = kerrors.New(kerrors.CodeStorageError, "telemetry store closed", nil)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT    NOT NULL,
	attrs      TEXT    NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

// Event is one recorded occurrence.
type Event struct {
	ID        int64
	Name      string
	Attrs     map[string]string
	CreatedAt time.Time
}

// Store persists events to a SQLite database.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns ~/.kode/events.db (honouring KODE_HOME).
func DefaultPath() (string, error) {
	dir, err := debug.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFileName), nil
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if needed) the event database at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	trimmed := strings.TrimSpace(dbPath)
	if trimmed == "" {
		return nil, fmt.Errorf("telemetry: empty database path")
	}
	//nolint:gosec // G301: User state directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, kerrors.New(kerrors.CodeStorageError, "open telemetry db", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, kerrors.New(kerrors.CodeStorageError, "ping telemetry db", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, kerrors.New(kerrors.CodeStorageError, "create telemetry schema", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Log inserts an event and prunes rows beyond MaxEvents.
func (s *Store) Log(ctx context.Context, name string, attrs map[string]string) error {
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode event attrs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kerrors.New(kerrors.CodeStorageError, "begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (name, attrs, created_at) VALUES (?, ?, ?)`,
		name, string(payload), s.now().UnixMilli(),
	); err != nil {
		return kerrors.New(kerrors.CodeStorageError, "insert event", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`,
		MaxEvents,
	); err != nil {
		return kerrors.New(kerrors.CodeStorageError, "prune events", err)
	}
	if err := tx.Commit(); err != nil {
		return kerrors.New(kerrors.CodeStorageError, "commit event", err)
	}
	return nil
}

// Record logs an event, swallowing failures into the debug log.
func (s *Store) Record(name string, attrs map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.Log(ctx, name, attrs); err != nil {
		debug.Errorf("telemetry: record %s: %v", name, err)
	}
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, attrs, created_at
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, kerrors.New(kerrors.CodeStorageError, "query events", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			payload string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Name, &payload, &created); err != nil {
			return nil, kerrors.New(kerrors.CodeStorageError, "scan event", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Attrs); err != nil {
			debug.Warnf("telemetry: event %d has malformed attrs: %v", e.ID, err)
		}
		e.CreatedAt = time.UnixMilli(created)
		events = append(events, e)
	}
	return events, rows.Err()
}
