package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"musicschool/internal/config"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrRoomNoLongerAvailable   = errors.New("room is no longer available for this time")
	ErrConcurrentModification  = errors.New("booking was modified concurrently")
	ErrBookingNotDeletable     = errors.New("booking can only be deleted once rejected or completed")
	ErrRoomNotFound            = fmt.Errorf("room: %w", ErrNotFound)
	ErrBookingNotFound         = fmt.Errorf("booking: %w", ErrNotFound)
	ErrNotificationTaskMissing = fmt.Errorf("notification task: %w", ErrNotFound)
)

// DB is the booking store. Queries are written with '?' placeholders and
// rebound for the active driver, so the same code serves SQLite and Postgres.
type DB struct {
	*sqlx.DB
	driver string
	path   string
	logger *zerolog.Logger
}

// NewDB opens (creating if needed) a SQLite database at path.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// BEGIN IMMEDIATE serialises writers, so check-then-write transactions
	// cannot interleave.
	dsn += "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"

	sqlxDB, err := sqlx.Open(config.DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise get its own empty database
		sqlxDB.SetMaxOpenConns(1)
	}

	return initDB(sqlxDB, config.DriverSQLite, path, logger)
}

// NewPostgres connects to Postgres through lib/pq.
func NewPostgres(cfg config.PostgresConfig, logger *zerolog.Logger) (*DB, error) {
	sqlxDB, err := sqlx.Open(config.DriverPostgres, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConnections > 0 {
		sqlxDB.SetMaxOpenConns(cfg.MaxConnections)
		sqlxDB.SetMaxIdleConns(cfg.MaxConnections / 2)
	}
	return initDB(sqlxDB, config.DriverPostgres, "", logger)
}

// Open picks the driver configured in cfg.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgres(cfg.Postgres, logger)
	case config.DriverSQLite, "":
		return NewDB(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Wrap adopts an already open connection without running migrations.
func Wrap(conn *sql.DB, driver string, logger *zerolog.Logger) *DB {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DB{DB: sqlx.NewDb(conn, driver), driver: driver, logger: logger}
}

func initDB(sqlxDB *sqlx.DB, driver, path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	// Проверяем соединение
	if err := sqlxDB.Ping(); err != nil {
		sqlxDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlxDB, driver: driver, path: path, logger: logger}
	if err := db.createTables(); err != nil {
		sqlxDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", driver).Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) Driver() string { return db.driver }

// Path is the SQLite file path; empty for Postgres.
func (db *DB) Path() string { return db.path }

func (db *DB) createTables() error {
	pk, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if db.driver == config.DriverPostgres {
		pk, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            type TEXT NOT NULL,
            capacity INTEGER NOT NULL CHECK (capacity > 0),
            description TEXT NOT NULL DEFAULT '',
            is_visible BOOLEAN NOT NULL DEFAULT TRUE,
            created_at ` + ts + ` NOT NULL,
            updated_at ` + ts + ` NOT NULL
        )`,
		// room_name is a snapshot taken at confirmation; rooms may be deleted later
		`CREATE TABLE IF NOT EXISTS bookings (
            id ` + pk + `,
            booking_date TEXT NOT NULL,
            start_time TEXT NOT NULL,
            duration INTEGER NOT NULL CHECK (duration BETWEEN 1 AND 8),
            booking_type TEXT NOT NULL,
            type_label TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            room_id TEXT NOT NULL DEFAULT '',
            room_name TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            admin_message TEXT NOT NULL DEFAULT '',
            created_at ` + ts + ` NOT NULL,
            updated_at ` + ts + ` NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id ` + pk + `,
            booking_id INTEGER NOT NULL,
            event TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at ` + ts + ` NOT NULL,
            processed_at ` + ts + `,
            next_retry_at ` + ts + `
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_date_status ON bookings(booking_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_room_date ON bookings(room_id, booking_date)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(query string) string
}

// insertReturningID runs an INSERT ... RETURNING id on either driver.
func insertReturningID(ctx context.Context, q queryer, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, q.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
