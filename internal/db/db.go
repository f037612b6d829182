package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultDBName = "oncall.db"

// Busy-retry bounds for transaction acquisition. The database file is shared
// with ad-hoc inspection tools, so momentary lock contention is expected.
const (
	acquireAttempts = 10
	acquireDelay    = 500 * time.Millisecond
)

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".oncall", defaultDBName)
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".oncall")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys, WAL and a busy timeout on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Store is the one path by which the service touches the database. It scopes
// every operation to a transaction and masks transient single-writer lock
// contention when acquiring one.
type Store struct {
	DB *sql.DB

	// Attempts and Delay override the acquisition retry bounds; zero values
	// use the defaults. Tests shrink Delay.
	Attempts int
	Delay    time.Duration

	// Sleep is replaceable in tests.
	Sleep func(time.Duration)
}

// NewStore wraps an open database handle.
func NewStore(conn *sql.DB) *Store {
	return &Store{DB: conn}
}

// RunTx acquires a transaction, runs fn, and commits. Read-only transactions
// are always rolled back; the flag documents intent since the sqlite driver
// ignores TxOptions.ReadOnly. The transaction is released on every exit path.
// Acquisition failures classified
// as lock contention are retried up to the configured bound with a fixed
// delay; any other failure propagates immediately.
func (s *Store) RunTx(ctx context.Context, readOnly bool, fn func(tx *sql.Tx) error) error {
	tx, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if readOnly {
		return tx.Rollback()
	}
	return tx.Commit()
}

func (s *Store) acquire(ctx context.Context) (*sql.Tx, error) {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = acquireAttempts
	}
	delay := s.Delay
	if delay <= 0 {
		delay = acquireDelay
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err == nil {
			return tx, nil
		}
		if !IsLocked(err) {
			return nil, err
		}
		lastErr = err
		if attempt < attempts {
			sleep(delay)
		}
	}
	return nil, fmt.Errorf("database busy after %d attempts: %w", attempts, lastErr)
}

// IsLocked reports whether err is transient SQLite lock contention.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
