// Package database opens the review-state database. SQLite (pure Go) is the
// default for a single learner; PostgreSQL serves shared deployments.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bgde/vocab-platform/pkg/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type Client struct {
	DB     *sqlx.DB
	Driver string
}

// Open connects using the review driver from cfg. For SQLite the database
// file lives in cfg.Review.DataDir.
func Open(cfg *config.Config) (*Client, error) {
	switch cfg.Review.Driver {
	case DriverPostgres:
		return OpenPostgres(cfg.Postgres)
	case DriverSQLite, "":
		if err := os.MkdirAll(cfg.Review.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", cfg.Review.DataDir, err)
		}
		return OpenSQLite(filepath.Join(cfg.Review.DataDir, "reviews.db"))
	default:
		return nil, fmt.Errorf("unsupported review driver %q", cfg.Review.Driver)
	}
}

func OpenPostgres(cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.Open(DriverPostgres, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return ping(db, DriverPostgres)
}

// OpenSQLite opens (creating if needed) the database file at path. Use
// ":memory:" for a throwaway database.
func OpenSQLite(path string) (*Client, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	return ping(db, DriverSQLite)
}

func ping(db *sqlx.DB, driver string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}
	return &Client{DB: db, Driver: driver}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Rebind converts a query written with ? placeholders to the driver's
// bind style.
func (c *Client) Rebind(query string) string {
	return c.DB.Rebind(query)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
