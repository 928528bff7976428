package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// DB wraps sql.DB together with the driver it was opened with.
type DB struct {
	Client *sql.DB
	Driver string
}

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns int
	PingTimeout  time.Duration
}

// NewDB opens a pooled connection, verifies it and applies the embedded migrations.
func NewDB(driver, dsn string, opts Options) (*DB, error) {
	switch driver {
	case DriverPostgres, "postgres":
		driver = DriverPostgres
	case DriverSQLite, "sqlite3":
		driver = DriverSQLite
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	configurePool(db, driver, dsn, opts)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	out := &DB{Client: db, Driver: driver}
	if err := Migrate(out); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return out, nil
}

// OpenSQLiteMemory returns a migrated private in-memory database.
func OpenSQLiteMemory() (*DB, error) {
	return NewDB(DriverSQLite, ":memory:", Options{MaxOpenConns: 1})
}

func configurePool(db *sql.DB, driver, dsn string, opts Options) {
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if driver == DriverSQLite && strings.HasPrefix(dsn, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(time.Hour)
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "gymattendance.db"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	params := "_time_format=sqlite&_pragma=busy_timeout(5000)"
	if !strings.HasPrefix(dsn, ":memory:") {
		params += "&_pragma=journal_mode(WAL)"
	}
	return dsn + sep + params
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Healthy reports whether the database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// IsUniqueViolation reports whether err was raised by a unique index on either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
