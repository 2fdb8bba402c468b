package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path          string `split_words:"true" default:"./data/advisor.db"`
	MaxOpenConns  int    `split_words:"true" default:"25"`
	MaxIdleConns  int    `split_words:"true" default:"5"`
	BusyTimeoutMS int    `envconfig:"SQLITE_BUSY_TIMEOUT_MS" default:"5000"`
}

// DSN returns the modernc DSN with WAL journaling and a busy timeout.
func (c *Config) DSN() string {
	if c.Path == ":memory:" {
		return c.Path
	}
	busy := c.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_txlock=immediate", c.Path, busy)
}

// New opens the database, sizes the pool and pings it.
func (c *Config) New(ctx context.Context) (*sql.DB, error) {
	if c.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := c.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
