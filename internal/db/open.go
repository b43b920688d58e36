package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultPath = "./data/siteguard.db"

type Config struct {
	Path string
	// Memory opens a private in-memory database; Path is then used only as its name.
	Memory bool
}

// DSN builds the modernc.org/sqlite connection string with per-connection pragmas
func (c Config) DSN() string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	if c.Memory {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", c.Path, pragmas)
	}
	return fmt.Sprintf("file:%s?%s", c.Path, pragmas)
}

// Open connects, pings and migrates the violations database
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	if !cfg.Memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY churn
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}
