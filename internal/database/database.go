package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateRequestRef = errors.New("request_ref already used")
)

// driverName is go-sqlite3 with a Unicode-aware ulower() SQL function.
// SQLite's own LOWER only folds ASCII.
const driverName = "sqlite3_partnerqueue"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ulower", strings.ToLower, true)
		},
	})
}

// DB is a handle to one tenant database. Queue tables and domain tables live side by side.
type DB struct {
	*sql.DB
	path   string
	loc    *time.Location
	logger zerolog.Logger
}

// Option configures NewDB.
type Option func(*DB)

// WithLocation sets the tenant-local time zone used for created_at/updated_at.
func WithLocation(loc *time.Location) Option {
	return func(db *DB) {
		if loc != nil {
			db.loc = loc
		}
	}
}

func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	conn, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	db := &DB{DB: conn, path: path, loc: time.Local, logger: zerolog.Nop()}
	if logger != nil {
		db.logger = logger.With().Str("component", "database").Str("db_path", path).Logger()
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := createTables(conn, tenantSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db.logger.Debug().Msg("tenant database initialized")
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return conn, nil
}

var tenantSchema = []string{
	`CREATE TABLE IF NOT EXISTS partner_request_queue (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_ref TEXT NOT NULL UNIQUE,
        partner TEXT NOT NULL,
        operation TEXT NOT NULL,
        operation_key TEXT,
        target_id INTEGER,
        payload_type TEXT,
        business_ref TEXT,
        payload_json TEXT NOT NULL DEFAULT '{}',
        hotel_id INTEGER,
        status TEXT NOT NULL DEFAULT 'Pending',
        attempts INTEGER NOT NULL DEFAULT 0,
        last_error TEXT,
        created_at DATETIME NOT NULL,
        updated_at DATETIME
    )`,
	`CREATE TABLE IF NOT EXISTS partner_request_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_ref TEXT NOT NULL,
        partner TEXT,
        operation TEXT,
        status TEXT,
        message TEXT,
        created_at DATETIME NOT NULL,
        hotel_id INTEGER
    )`,
	`CREATE TABLE IF NOT EXISTS hotel_settings (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        hotel_id INTEGER NOT NULL,
        hotel_name TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS apartments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        hotel_id INTEGER NOT NULL,
        code TEXT NOT NULL DEFAULT '',
        name TEXT NOT NULL DEFAULT ''
    )`,
	`CREATE TABLE IF NOT EXISTS expenses (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        hotel_id INTEGER NOT NULL,
        expense_no TEXT UNIQUE,
        date_time DATETIME NOT NULL,
        comment TEXT,
        expense_category_id INTEGER,
        tax_rate REAL,
        tax_amount REAL,
        total_amount REAL NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        updated_at DATETIME
    )`,
	`CREATE TABLE IF NOT EXISTS expense_rooms (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        expense_id INTEGER NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
        apartment_id INTEGER NOT NULL,
        purpose TEXT,
        created_at DATETIME NOT NULL
    )`,

	`CREATE INDEX IF NOT EXISTS idx_queue_status_created ON partner_request_queue(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_created ON partner_request_queue(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_log_request_ref ON partner_request_log(request_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_expense_rooms_expense_id ON expense_rooms(expense_id)`,
}

func createTables(db *sql.DB, queries []string) error {
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path returns the file backing this handle.
func (db *DB) Path() string {
	return db.path
}

// Now returns the tenant-local current time.
func (db *DB) Now() time.Time {
	return time.Now().In(db.loc)
}

// WithTx runs fn inside a transaction, committing on nil error.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func float64Ptr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}
