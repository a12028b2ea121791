package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/mailpilot/mailpilot/internal/model"
)

var csvHeader = []string{"email", "name", "status", "timestamp", "error"}

// legacyTimestamp is the zone-less ISO layout older log files were written with
const legacyTimestamp = "2006-01-02T15:04:05.999999"

// CSVDeliveryLog stores records in a flat UTF-8 CSV file with a header row
type CSVDeliveryLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewCSVDeliveryLog creates a store backed by the file at path. The file is
// created lazily on first access.
func NewCSVDeliveryLog(path string) *CSVDeliveryLog {
	return &CSVDeliveryLog{path: path, now: time.Now}
}

// Path returns the backing file path
func (l *CSVDeliveryLog) Path() string {
	return l.path
}

// ensure creates the file with its header. O_EXCL makes concurrent first
// access from several processes produce exactly one header. Callers hold mu.
func (l *CSVDeliveryLog) ensure() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create delivery log: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("failed to write delivery log header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write delivery log header: %w", err)
	}
	return f.Close()
}

// Record appends one row
func (l *CSVDeliveryLog) Record(ctx context.Context, email, name string, status model.DeliveryStatus, errMsg string) error {
	if err := validateRecord(email, status); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensure(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open delivery log: %w", err)
	}

	w := csv.NewWriter(f)
	row := []string{email, name, string(status), l.now().UTC().Format(time.RFC3339Nano), errMsg}
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("failed to append delivery record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to append delivery record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close delivery log: %w", err)
	}
	return nil
}

// SentEmails scans the file for sent rows
func (l *CSVDeliveryLog) SentEmails(ctx context.Context) (map[string]struct{}, error) {
	entries, err := l.AllEntries(ctx)
	if err != nil {
		return nil, err
	}

	sent := make(map[string]struct{})
	for _, e := range entries {
		if e.Status == model.DeliveryStatusSent {
			sent[model.NormalizeEmail(e.Email)] = struct{}{}
		}
	}
	return sent, nil
}

// AllEntries replays the file in append order
func (l *CSVDeliveryLog) AllEntries(ctx context.Context) ([]model.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensure(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open delivery log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return []model.DeliveryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery log header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	entries := []model.DeliveryRecord{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read delivery log: %w", err)
		}
		entries = append(entries, model.DeliveryRecord{
			Email:     field(row, "email"),
			Name:      field(row, "name"),
			Status:    model.DeliveryStatus(field(row, "status")),
			Timestamp: parseTimestamp(field(row, "timestamp")),
			Error:     field(row, "error"),
		})
	}
	return entries, nil
}

// Clear removes the file; the next access recreates it empty
func (l *CSVDeliveryLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear delivery log: %w", err)
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation(legacyTimestamp, s, time.Local); err == nil {
		return t
	}
	return time.Time{}
}
