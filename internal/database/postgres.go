package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mailpilot/mailpilot/internal/config"
)

const (
	pingTimeout           = 5 * time.Second
	defaultMaxConnections = 4
	connectionMaxIdleTime = 10 * time.Minute
)

// Postgres holds the pool behind the postgres delivery log and the migrate
// tool. Only one worker writes at a time, so the pool stays small.
type Postgres struct {
	*sql.DB
}

// NewPostgres opens the pool and fails fast when the server is unreachable
func NewPostgres(cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	open := cfg.MaxConnections
	if open <= 0 {
		open = defaultMaxConnections
	}
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(max(1, open/4))
	db.SetConnMaxIdleTime(connectionMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database %q on %s:%d: %w", cfg.Name, cfg.Host, cfg.Port, err)
	}

	return &Postgres{DB: db}, nil
}

// HealthCheck pings the server
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.PingContext(ctx)
}
