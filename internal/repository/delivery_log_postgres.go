package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

// deliveryLogLockKey serializes schema creation across processes
const deliveryLogLockKey = 7_305_118_204

const createDeliveryLogTable = `
	CREATE TABLE IF NOT EXISTS delivery_log (
		id          BIGSERIAL PRIMARY KEY,
		email       TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL CHECK (status IN ('sent', 'failed')),
		"timestamp" TIMESTAMPTZ NOT NULL,
		error       TEXT NOT NULL DEFAULT ''
	)
`

// PostgresDeliveryLog stores records in the delivery_log table
type PostgresDeliveryLog struct {
	db *database.Postgres

	mu    sync.Mutex
	ready bool
	now   func() time.Time
}

// NewPostgresDeliveryLog creates a new PostgresDeliveryLog
func NewPostgresDeliveryLog(db *database.Postgres) *PostgresDeliveryLog {
	return &PostgresDeliveryLog{db: db, now: time.Now}
}

// ensure creates the table once per process. The advisory lock is held for
// the transaction so concurrent first access from several processes is safe.
func (r *PostgresDeliveryLog) ensure(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(deliveryLogLockKey)); err != nil {
		return fmt.Errorf("failed to acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createDeliveryLogTable); err != nil {
		return fmt.Errorf("failed to create delivery_log table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}

	r.ready = true
	return nil
}

// Record inserts one row
func (r *PostgresDeliveryLog) Record(ctx context.Context, email, name string, status model.DeliveryStatus, errMsg string) error {
	if err := validateRecord(email, status); err != nil {
		return err
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}

	query := `
		INSERT INTO delivery_log (email, name, status, "timestamp", error)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, email, name, string(status), r.now().UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// SentEmails returns every address with a sent row
func (r *PostgresDeliveryLog) SentEmails(ctx context.Context) (map[string]struct{}, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}

	query := `SELECT DISTINCT lower(trim(email)) FROM delivery_log WHERE status = 'sent'`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent emails: %w", err)
	}
	defer rows.Close()

	sent := make(map[string]struct{})
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan sent email: %w", err)
		}
		sent[email] = struct{}{}
	}
	return sent, rows.Err()
}

// AllEntries returns every row ordered by insertion
func (r *PostgresDeliveryLog) AllEntries(ctx context.Context) ([]model.DeliveryRecord, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT email, name, status, "timestamp", error
		FROM delivery_log
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery log: %w", err)
	}
	defer rows.Close()

	entries := []model.DeliveryRecord{}
	for rows.Next() {
		var (
			rec    model.DeliveryRecord
			status string
			ts     sql.NullTime
		)
		if err := rows.Scan(&rec.Email, &rec.Name, &status, &ts, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		rec.Status = model.DeliveryStatus(status)
		if ts.Valid {
			rec.Timestamp = ts.Time
		}
		entries = append(entries, rec)
	}
	return entries, rows.Err()
}

// Clear truncates the table
func (r *PostgresDeliveryLog) Clear(ctx context.Context) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `TRUNCATE delivery_log RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to clear delivery log: %w", err)
	}
	return nil
}
