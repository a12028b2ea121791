package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/model"
)

// DeliveryLog is the append-only record of send outcomes. A recipient counts
// as handled once it has at least one sent record; failed records never
// exclude it from a later run.
type DeliveryLog interface {
	// Record appends one outcome stamped with the current time
	Record(ctx context.Context, email, name string, status model.DeliveryStatus, errMsg string) error
	// SentEmails returns the lower-cased addresses with a sent record
	SentEmails(ctx context.Context) (map[string]struct{}, error)
	// AllEntries returns every record, oldest first
	AllEntries(ctx context.Context) ([]model.DeliveryRecord, error)
	// Clear discards the whole log
	Clear(ctx context.Context) error
}

// NewDeliveryLog builds the store selected by cfg.Backend. The postgres
// backend needs db; the csv backend ignores it.
func NewDeliveryLog(cfg config.DeliveryLogConfig, db *database.Postgres) (DeliveryLog, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "csv":
		return NewCSVDeliveryLog(cfg.Path), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("%w: postgres delivery log requires a database connection", ErrInvalidInput)
		}
		return NewPostgresDeliveryLog(db), nil
	default:
		return nil, fmt.Errorf("%w: unknown delivery log backend %q", ErrInvalidInput, cfg.Backend)
	}
}

func validateRecord(email string, status model.DeliveryStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidInput)
	}
	return nil
}
