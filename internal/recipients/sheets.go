package recipients

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/mailpilot/mailpilot/internal/config"
)

// SheetsSource reads recipients from one worksheet of a Google spreadsheet.
// The first row is the header.
type SheetsSource struct {
	service   *sheets.Service
	sheetID   string
	sheetName string
}

// NewSheetsSource authenticates with the configured service account
func NewSheetsSource(ctx context.Context, cfg config.SheetsConfig) (*SheetsSource, error) {
	if cfg.SheetID == "" {
		return nil, fmt.Errorf("sheets: sheet_id is required")
	}

	creds := []byte(cfg.CredentialsJSON)
	if len(creds) == 0 {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("sheets: failed to read credentials file: %w", err)
		}
		creds = data
	}

	jwtConfig, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to parse credentials: %w", err)
	}

	return NewSheetsSourceWithOptions(ctx, cfg.SheetID, cfg.SheetName, option.WithHTTPClient(jwtConfig.Client(ctx)))
}

// NewSheetsSourceWithOptions builds a source from explicit client options
func NewSheetsSourceWithOptions(ctx context.Context, sheetID, sheetName string, opts ...option.ClientOption) (*SheetsSource, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to create service: %w", err)
	}
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	return &SheetsSource{service: svc, sheetID: sheetID, sheetName: sheetName}, nil
}

// Fetch reads every row of the worksheet
func (s *SheetsSource) Fetch(ctx context.Context) (Result, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.sheetID, s.sheetName).Context(ctx).Do()
	if err != nil {
		return Result{}, fmt.Errorf("sheets: failed to read %s: %w", s.sheetName, err)
	}
	if len(resp.Values) == 0 {
		return Result{Recipients: nil}, nil
	}

	table := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		table[i] = cells
	}
	return FromRows(table[0], table[1:]), nil
}
