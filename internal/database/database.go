package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05Z"

	DefaultLockTimeout = 10 * time.Second
)

var (
	// ErrBusy is returned when the store lock could not be acquired in time.
	// Callers skip the current tick.
	ErrBusy = errors.New("store is busy")

	// ErrTableMissing is returned when a per-miner table no longer exists.
	ErrTableMissing = errors.New("table does not exist")

	ErrClosed = errors.New("store is closed")

	// ErrFatal marks schema and statement errors. Retrying does not clear
	// them, so the process stops.
	ErrFatal = errors.New("fatal store error")
)

// Database owns the sqlite file and the process-wide lock that serializes
// every statement against it.
type Database struct {
	db          *sql.DB
	orm         *gorm.DB
	lock        chan struct{}
	lockTimeout time.Duration
	closed      bool
}

// Session is handed to a WithLock callback. Code holding a session already
// owns the store lock and must call session methods instead of re-locking.
type Session struct {
	db   *Database
	orm  *gorm.DB
	inTx bool
}

func NewDatabase(dbPath string, lockTimeout time.Duration) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// One connection keeps transactions and DDL on the same handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	orm, err := gorm.Open(sqlite.New(sqlite.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	return &Database{
		db:          db,
		orm:         orm,
		lock:        make(chan struct{}, 1),
		lockTimeout: lockTimeout,
	}, nil
}

// WithLock runs fn while holding the store lock. It returns ErrBusy when the
// lock is not acquired within the lock timeout. Once fn starts it runs to
// completion even if ctx is cancelled.
func (d *Database) WithLock(ctx context.Context, fn func(*Session) error) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	if d.closed {
		return ErrClosed
	}

	return fn(&Session{db: d, orm: d.orm.WithContext(context.WithoutCancel(ctx))})
}

func (d *Database) acquire(ctx context.Context) error {
	timer := time.NewTimer(d.lockTimeout)
	defer timer.Stop()

	select {
	case d.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Database) release() {
	<-d.lock
}

// Close waits for any in-flight critical section before closing the file.
func (d *Database) Close() error {
	d.lock <- struct{}{}
	defer d.release()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Transaction runs fn in a single sqlite transaction. Nested calls reuse the
// outer transaction.
func (s *Session) Transaction(fn func(*Session) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.orm.Transaction(func(tx *gorm.DB) error {
		return fn(&Session{db: s.db, orm: tx, inTx: true})
	})
}

func (s *Session) exec(query string, args ...interface{}) (int64, error) {
	result := s.orm.Exec(query, args...)
	if result.Error != nil {
		return 0, mapError(result.Error)
	}
	return result.RowsAffected, nil
}

// query returns open rows. Rows must be closed before the next statement
// since the pool holds a single connection.
func (s *Session) query(query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.orm.Raw(query, args...).Rows()
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", ErrTableMissing, err)
	}
	if IsFatal(err) {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return err
}

// IsFatal reports whether err carries a schema or statement error. A missing
// per-miner table, a busy file and constraint results are not fatal.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, ErrTableMissing) {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return true
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code {
	case sqlite3.ErrError:
		return !strings.Contains(sqliteErr.Error(), "no such table")
	case sqlite3.ErrSchema, sqlite3.ErrMisuse, sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return true
	default:
		return false
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
