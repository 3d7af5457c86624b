package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/logger"
)

const instrumentationName = "github.com/lazypower/chronicle/internal/store"

// DB is an open chronicle fact store. Each handle is independent; callers
// create one with Open or OpenMemory and release it with Close.
type DB struct {
	*sql.DB
	Path string

	cipher crypto.Cipher
	log    *slog.Logger
	clock  func() time.Time
	locks  *keyLocks

	tracer   trace.Tracer
	counters counters
}

type counters struct {
	created     metric.Int64Counter
	confirmed   metric.Int64Counter
	invalidated metric.Int64Counter
}

// Option configures a DB at open time.
type Option func(*DB)

// WithCipher overrides the encryption adapter. Defaults to AES-256-GCM.
func WithCipher(c crypto.Cipher) Option {
	return func(db *DB) { db.cipher = c }
}

// WithLogger sets the logger used for partial-result warnings.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.log = l }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.clock = now }
}

// DefaultDBPath returns the default database path: ~/.chronicle/chronicle.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".chronicle", "chronicle.db"), nil
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// dsn builds a modernc.org/sqlite connection string. Write transactions take
// the database lock at BEGIN so concurrent writers queue instead of deadlocking.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens (or creates) the SQLite database at the given path and runs
// migrations.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return setup(sqlDB, path, opts)
}

// OpenMemory opens an in-memory database. Every call returns an isolated store.
func OpenMemory(opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection to :memory: is its own database; pin the pool to one.
	sqlDB.SetMaxOpenConns(1)
	return setup(sqlDB, ":memory:", opts)
}

func setup(sqlDB *sql.DB, path string, opts []Option) (*DB, error) {
	db := &DB{
		DB:     sqlDB,
		Path:   path,
		cipher: crypto.AESGCM{},
		log:    logger.Nop(),
		clock:  time.Now,
		locks:  newKeyLocks(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(db)
	}

	if err := db.initCounters(otel.Meter(instrumentationName)); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) initCounters(m metric.Meter) error {
	var err error
	if db.counters.created, err = m.Int64Counter("chronicle.facts.created",
		metric.WithDescription("Facts persisted as new rows")); err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	if db.counters.confirmed, err = m.Int64Counter("chronicle.facts.confirmed",
		metric.WithDescription("Upserts that reconfirmed an existing fact")); err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	if db.counters.invalidated, err = m.Int64Counter("chronicle.facts.invalidated",
		metric.WithDescription("Facts closed by invalidation or supersession")); err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	return nil
}

// now returns the current time in unix milliseconds.
func (db *DB) now() int64 {
	return db.clock().UnixMilli()
}
