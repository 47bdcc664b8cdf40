// Package store provides the SQL-backed contact store. SQLite (default) and
// PostgreSQL are supported; the schema is managed with embedded migrations.
//
// Every engine call runs inside WithinTx. On SQLite the transaction is opened
// with BEGIN IMMEDIATE over a single connection, which serializes writers; on
// PostgreSQL it runs at SERIALIZABLE isolation. Conflicts surface as
// apperr.ErrConflict so callers can retry the whole unit of work.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations
var migrationsFS embed.FS

// Config selects and locates the backing database.
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

func (c Config) dsn() string {
	if c.Driver == DriverPostgres {
		return c.PostgresDSN
	}
	return c.SQLitePath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func (c Config) sqlDriverName() string {
	if c.Driver == DriverPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Option customizes a Store.
type Option func(*Store)

// WithNow overrides the clock used for created_at / updated_at.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store wraps a sqlx.DB with contact operations.
type Store struct {
	db      *sqlx.DB
	flavor  sqlbuilder.Flavor
	txOpts  *sql.TxOptions
	now     func() time.Time
	version uint
}

// Open connects to the configured database and applies pending migrations.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	version, err := migrateUp(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(cfg.sqlDriverName(), cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{
		db:      conn,
		now:     time.Now,
		version: version,
	}
	switch cfg.Driver {
	case DriverSQLite:
		// One writer at a time; BEGIN IMMEDIATE does the rest.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		s.flavor = sqlbuilder.SQLite
	case DriverPostgres:
		s.flavor = sqlbuilder.PostgreSQL
		s.txOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// SchemaVersion returns the migration version applied by Open.
func (s *Store) SchemaVersion() uint {
	return s.version
}

// WithinTx runs fn inside one transaction. The transaction commits only if fn
// returns nil.
func (s *Store) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTxx(ctx, s.txOpts)
	if err != nil {
		return classify("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &sqlTx{tx: tx, flavor: s.flavor, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func migrateUp(cfg Config) (uint, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+cfg.Driver)
	if err != nil {
		return 0, fmt.Errorf("store: load migrations: %w", err)
	}

	conn, err := sql.Open(cfg.sqlDriverName(), cfg.dsn())
	if err != nil {
		src.Close()
		return 0, fmt.Errorf("store: open migration db: %w", err)
	}
	defer conn.Close()

	var drv database.Driver
	switch cfg.Driver {
	case DriverPostgres:
		drv, err = migratepgx.WithInstance(conn, &migratepgx.Config{})
	default:
		drv, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	}
	if err != nil {
		src.Close()
		return 0, fmt.Errorf("store: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.Driver, drv)
	if err != nil {
		src.Close()
		drv.Close()
		return 0, fmt.Errorf("store: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("store: apply migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("store: migration version: %w", err)
	}
	return version, nil
}
