// Package mariadb stores values in a MariaDB / MySQL table.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
    k           VARCHAR(255) NOT NULL PRIMARY KEY,
    v           LONGBLOB NOT NULL,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

func init() {
	storage.Register("mariadb", func(ctx context.Context, cfg *config.StorageConfig) (storage.KV, error) {
		return NewPool(ctx, cfg)
	})
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool connects to the DSN in cfg.URL and ensures the table exists.
func NewPool(ctx context.Context, cfg *config.StorageConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	db, err := sql.Open("mysql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}

	return &Pool{db: db}, nil
}

func (p *Pool) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, "SELECT v FROM kv_store WHERE k = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query kv_store: %w", err)
	}
	return value, nil
}

func (p *Pool) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO kv_store (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert kv_store: %w", err)
	}
	return nil
}

func (p *Pool) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM kv_store WHERE k = ?", key); err != nil {
		return fmt.Errorf("delete from kv_store: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}
