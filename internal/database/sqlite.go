// Package database owns the inventory's SQLite store. A single SQLiteStore
// holds the process-wide connection; restore swaps the files underneath it
// through Detach and Attach.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"boxes-go/internal/boxes"
	"boxes-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory store.
const MemoryPath = ":memory:"

// ErrStoreUnavailable is returned by every query while the store is detached
// or after reopening it failed.
var ErrStoreUnavailable = errors.New("store unavailable")

// Options control how a store is opened.
type Options struct {
	// SeedSampleData populates a store file that did not exist before Open.
	SeedSampleData bool
	Clock          boxes.Clock
	IDs            boxes.IDGenerator
	Logger         boxes.Logger
}

// SQLiteStore is the single owner of the *sql.DB for one store file.
// Queries hold the read lock; Detach and Attach hold the write lock, so no
// query runs while the files are being replaced.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	detached bool
	// generation counts Detach calls.
	generation atomic.Uint64

	clock  boxes.Clock
	ids    boxes.IDGenerator
	logger boxes.Logger
}

// Open opens (creating if needed) the store at path, applies migrations and,
// when the file was just created and opts.SeedSampleData is set, seeds
// sample data.
func Open(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:   path,
		clock:  opts.Clock,
		ids:    opts.IDs,
		logger: opts.Logger,
	}
	if s.clock == nil {
		s.clock = boxes.RealClock{}
	}
	if s.ids == nil {
		s.ids = boxes.UUIDGenerator{}
	}
	if s.logger == nil {
		s.logger = boxes.NewNopLogger()
	}

	created := true
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		if _, err := os.Stat(path); err == nil {
			created = false
		}
	}

	db, err := openAndMigrate(path)
	if err != nil {
		return nil, err
	}
	s.db = db

	if created && opts.SeedSampleData {
		if err := seedSampleData(ctx, db, s.ids, s.clock.Now()); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding sample data: %w", err)
		}
		s.logger.Info("seeded sample data", "path", path)
	}
	return s, nil
}

// OpenConnection opens and configures a SQLite connection: WAL journal,
// foreign keys on, a busy timeout, immediate write transactions, and a
// single pooled connection.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openAndMigrate(path string) (*sql.DB, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.EnsureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return db, nil
}

// Path returns the primary store file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Checkpoint merges the write-ahead log into the primary file and truncates
// the log.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	return s.withDB(func(db *sql.DB) error {
		var busy, logFrames, checkpointed int
		err := db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
		if err != nil {
			return fmt.Errorf("checkpointing wal: %w", err)
		}
		if busy != 0 {
			s.logger.Warn("wal checkpoint could not complete", "log_frames", logFrames, "checkpointed", checkpointed)
		}
		return nil
	})
}

// Freeze runs fn inside a BEGIN IMMEDIATE transaction on the only pooled
// connection, so the files on disk cannot change underneath it. Other
// callers wait until fn returns.
func (s *SQLiteStore) Freeze(ctx context.Context, fn func() error) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("locking store: %w", err)
		}
		defer tx.Rollback()

		return fn()
	})
}

// Detach closes the connection and keeps the store locked until Attach.
// Queries wait in between; after a failed Attach they return
// ErrStoreUnavailable. Detach must not be called twice without Attach.
func (s *SQLiteStore) Detach() error {
	s.mu.Lock()
	s.detached = true
	s.generation.Add(1)
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// Generation changes every time the store files may have been replaced.
func (s *SQLiteStore) Generation() uint64 {
	return s.generation.Load()
}

// Attach opens a fresh connection to the store file, ensures its schema and
// releases the lock taken by Detach. It never seeds. On failure the store
// stays unavailable.
func (s *SQLiteStore) Attach(ctx context.Context) error {
	if !s.detached {
		return fmt.Errorf("attach called on a store that is not detached")
	}
	defer s.mu.Unlock()
	s.detached = false

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("store file: %w", err)
	}

	db, err := openAndMigrate(s.path)
	if err != nil {
		return err
	}
	s.db = db
	s.logger.Info("store reattached", "path", s.path)
	return nil
}

// Close closes the connection. The store is unusable afterwards.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping reports whether the store is attached and answering.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.withDB(func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
}

func (s *SQLiteStore) withDB(fn func(db *sql.DB) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrStoreUnavailable
	}
	return fn(s.db)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}
