// Package store persists one outcome row per attempt in a SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

const schema = `CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	ip TEXT NOT NULL,
	payload TEXT NOT NULL,
	success BOOLEAN NOT NULL
)`

const insertRecord = `INSERT INTO metrics (timestamp, ip, payload, success) VALUES (?, ?, ?, ?)`

var (
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("metrics store is closed")
	// ErrLocked is returned by Open when another process holds the store.
	ErrLocked = errors.New("metrics store is locked by another run")
)

// Record is one attempt outcome.
type Record struct {
	Timestamp int64
	Host      string
	Payload   []byte
	Success   bool
}

// InitError reports a failure to open or prepare the store.
type InitError struct {
	Path string
	Op   string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("metrics store %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// PersistError reports a failed insert. The attempt it describes still happened.
type PersistError struct {
	Host string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist outcome for %s: %v", e.Host, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store is the metrics table. Every insert goes through one prepared
// statement under a mutex, so concurrent callers are serialized.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	insert *sql.Stmt
	lock   *flock.Flock
	path   string
	closed bool
}

// Open opens or creates the SQLite file at path, takes an exclusive lock on
// path+".lock" for the lifetime of the store and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	s := &Store{path: path}

	if path != memoryPath {
		s.lock = flock.New(path + ".lock")
		locked, err := s.lock.TryLock()
		if err != nil {
			return nil, &InitError{Path: path, Op: "lock", Err: err}
		}
		if !locked {
			return nil, &InitError{Path: path, Op: "lock", Err: ErrLocked}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		s.unlock()
		return nil, &InitError{Path: path, Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	s.db = db

	if err := db.PingContext(ctx); err != nil {
		s.closeQuietly()
		return nil, &InitError{Path: path, Op: "open", Err: err}
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.closeQuietly()
		return nil, err
	}

	stmt, err := db.PrepareContext(ctx, insertRecord)
	if err != nil {
		s.closeQuietly()
		return nil, &InitError{Path: path, Op: "prepare insert", Err: err}
	}
	s.insert = stmt
	return s, nil
}

func dsn(path string) string {
	if path == memoryPath {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// EnsureSchema creates the metrics table if it is missing. It is safe to
// call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &InitError{Path: s.path, Op: "create schema", Err: err}
	}
	return nil
}

// Record appends one row.
func (s *Store) Record(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &PersistError{Host: rec.Host, Err: ErrClosed}
	}
	if _, err := s.insert.ExecContext(ctx, rec.Timestamp, rec.Host, string(rec.Payload), rec.Success); err != nil {
		return &PersistError{Host: rec.Host, Err: err}
	}
	return nil
}

func (s *Store) Path() string { return s.path }

// Close flushes and releases the database and the file lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.insert != nil {
		errs = append(errs, s.insert.Close())
	}
	errs = append(errs, s.db.Close())
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

func (s *Store) closeQuietly() {
	_ = s.db.Close()
	s.unlock()
}

func (s *Store) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}
