package service

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/recipients"
)

// Recipient sources accepted at send time
const (
	SourceAuto     = "auto"
	SourceUploaded = "uploaded"
	SourceSheets   = "sheets"
)

// Manual entry modes
const (
	ModeReplace = "replace"
	ModeAppend  = "append"
)

// ErrSheetsNotConfigured is returned when no spreadsheet is configured
var ErrSheetsNotConfigured = errors.New("google sheets source is not configured")

type sheetsFetcher interface {
	Fetch(ctx context.Context) (recipients.Result, error)
}

// RecipientService holds the recipient list loaded through the dashboard and
// reads the spreadsheet on demand.
type RecipientService struct {
	config *config.Source
	logger *logger.Logger

	openSheets func(ctx context.Context) (sheetsFetcher, error)

	mu      sync.RWMutex
	current []model.Recipient
}

// NewRecipientService creates a new RecipientService
func NewRecipientService(cfg *config.Source, lg *logger.Logger) *RecipientService {
	s := &RecipientService{
		config: cfg,
		logger: lg.WithComponent("recipient_service"),
	}
	s.openSheets = s.defaultSheets
	return s
}

func (s *RecipientService) defaultSheets(ctx context.Context) (sheetsFetcher, error) {
	sheets := s.config.Current().Sheets
	if sheets.SheetID == "" {
		return nil, ErrSheetsNotConfigured
	}
	return recipients.NewSheetsSource(ctx, sheets)
}

// Current returns a copy of the loaded recipients
func (s *RecipientService) Current() []model.Recipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneAll(s.current)
}

// Clear drops the loaded recipients
func (s *RecipientService) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *RecipientService) replace(list []model.Recipient) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = model.CloneAll(list)
	return len(s.current)
}

// Upload parses an uploaded CSV or Excel file and replaces the loaded list
func (s *RecipientService) Upload(filename string, r io.Reader) (recipients.Result, error) {
	res, err := recipients.Parse(filename, r)
	if err != nil {
		return res, err
	}
	s.replace(res.Recipients)
	s.logger.Info().
		Str("file", filename).
		Int("recipients", res.Count()).
		Int("skipped", res.Skipped).
		Msg("recipients uploaded")
	return res, nil
}

// Manual loads form rows, replacing or extending the current list. It
// returns the parse result and the size of the list afterwards.
func (s *RecipientService) Manual(entries []recipients.ManualEntry, mode string) (recipients.Result, int, error) {
	res := recipients.FromManual(entries)
	if res.Count() == 0 {
		return res, 0, recipients.ErrNoValidRecipients
	}

	var total int
	switch mode {
	case "", ModeReplace:
		total = s.replace(res.Recipients)
	case ModeAppend:
		s.mu.Lock()
		s.current = recipients.Merge(s.current, model.CloneAll(res.Recipients))
		total = len(s.current)
		s.mu.Unlock()
	default:
		return res, 0, errors.New("mode must be replace or append")
	}
	return res, total, nil
}

// Sheets reads the configured spreadsheet
func (s *RecipientService) Sheets(ctx context.Context) (recipients.Result, error) {
	src, err := s.openSheets(ctx)
	if err != nil {
		return recipients.Result{}, err
	}
	return src.Fetch(ctx)
}

// Resolve returns the list to send to. Auto prefers loaded recipients and
// falls back to the spreadsheet.
func (s *RecipientService) Resolve(ctx context.Context, source string) ([]model.Recipient, error) {
	switch source {
	case SourceUploaded:
		list := s.Current()
		if len(list) == 0 {
			return nil, ErrNoRecipients
		}
		return list, nil
	case SourceSheets:
		return s.fromSheets(ctx)
	case "", SourceAuto:
		if list := s.Current(); len(list) > 0 {
			return list, nil
		}
		list, err := s.fromSheets(ctx)
		if errors.Is(err, ErrSheetsNotConfigured) {
			return nil, ErrNoRecipients
		}
		return list, err
	default:
		return nil, ErrInvalidSource
	}
}

func (s *RecipientService) fromSheets(ctx context.Context) ([]model.Recipient, error) {
	res, err := s.Sheets(ctx)
	if err != nil {
		return nil, err
	}
	if res.Count() == 0 {
		return nil, ErrNoRecipients
	}
	return res.Recipients, nil
}
