// Package store implements the Metadata Store Adapter: a façade over a
// relational store that supports transactions and JSON columns, fronting
// Postgres via pgx. Every operation is defensive — on loss of connection it
// re-creates the pool once and retries a single time; on persistent failure
// it falls back to an in-memory shadow of the same data rather than
// propagating an error out of the Admission or Hub paths. Even room creation
// degrades this way: a freshly generated room id has not been seen by any
// other instance yet, so serving it out of this process's memory alone
// carries no collision risk.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/metrics"
	"github.com/watchsync/core/internal/v1/room"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnavailable is the failure sentinel for a missing or unreachable
// durable store. Most operations catch it and degrade to the in-memory
// shadow (room creation included); SweepExpiredRooms returns it to its
// caller.
var ErrUnavailable = errors.New("store: metadata store unavailable")

// Store fronts the durable projection. It is safe for concurrent use. dsn
// may be empty, in which case the Store runs memory-only from
// construction — the same degraded path a live Postgres outage falls into.
type Store struct {
	dsn string

	dbMu sync.RWMutex
	db   *sql.DB

	memMu           sync.Mutex
	memRooms        map[room.ID]*RoomRecord
	memParticipants map[string]*ParticipantRecord
	memUsers        map[string]bool
}

// New opens a Postgres connection and runs pending migrations. Unlike the
// teacher's pgstore.New, a connection failure here is not fatal: it is
// logged and the Store falls back to memory-only operation, per the
// "Optional at runtime" contract of the Metadata Store.
func New(dsn string) *Store {
	s := &Store{
		dsn:             dsn,
		memRooms:        make(map[room.ID]*RoomRecord),
		memParticipants: make(map[string]*ParticipantRecord),
		memUsers:        make(map[string]bool),
	}
	if dsn == "" {
		logging.Info(context.Background(), "metadata store running memory-only: no DSN configured")
		return s
	}
	if err := s.connect(); err != nil {
		logging.Warn(context.Background(), "metadata store unavailable at startup, running memory-only", zap.Error(err))
	}
	return s
}

func (s *Store) connect() error {
	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return fmt.Errorf("opening postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := migrate(db); err != nil {
		db.Close()
		return fmt.Errorf("running migrations: %w", err)
	}

	s.dbMu.Lock()
	s.db = db
	s.dbMu.Unlock()
	return nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
	}
	return nil
}

// live returns the current db handle, or nil if running memory-only.
func (s *Store) live() *sql.DB {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()
	return s.db
}

// resetPool closes the current connection and attempts to reopen it once,
// the adapter's single-retry-after-reconnect discipline for connection and
// auth-class failures.
func (s *Store) resetPool() {
	s.dbMu.Lock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	s.dbMu.Unlock()

	if err := s.connect(); err != nil {
		logging.Warn(context.Background(), "metadata store reconnect failed, staying memory-only", zap.Error(err))
	}
}

// withRetry runs fn against the live db, resetting the pool and retrying
// once on failure before giving up and reporting storage unavailable.
func withRetry(s *Store, operation string, fn func(*sql.DB) error) error {
	db := s.live()
	if db == nil {
		return ErrUnavailable
	}
	start := time.Now()
	err := fn(db)
	metrics.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}

	s.resetPool()
	db = s.live()
	if db == nil {
		return ErrUnavailable
	}
	if err := fn(db); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return ErrUnavailable
	}
	return nil
}

func roomKey(roomID room.ID, userID room.UserID) string {
	return string(roomID) + "|" + string(userID)
}

// Ping reports whether the durable store is reachable. Used by health
// readiness checks; a nil error while memory-only is intentional — that
// mode is a first-class operating state, not an outage.
func (s *Store) Ping(ctx context.Context) error {
	db := s.live()
	if db == nil {
		return nil
	}
	return db.PingContext(ctx)
}
