// Package recipients turns external sources (uploaded files, Google Sheets,
// manual entry) into validated recipient lists.
package recipients

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mailpilot/mailpilot/internal/model"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, use CSV or Excel (.xlsx)")
	ErrNoValidRecipients = errors.New("no valid email addresses found, ensure there is an 'email' column")
)

// Result is a parsed recipient list plus the number of rows dropped for a
// missing or invalid email.
type Result struct {
	Recipients []model.Recipient `json:"recipients"`
	Skipped    int               `json:"skipped"`
}

// Count returns the number of accepted recipients
func (r Result) Count() int {
	return len(r.Recipients)
}

// FromRows builds recipients from a header row and data rows. Header names
// are trimmed and lower-cased, values trimmed, empty cells dropped and the
// email lower-cased.
func FromRows(header []string, rows [][]string) Result {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = strings.ToLower(strings.TrimSpace(h))
	}

	res := Result{Recipients: []model.Recipient{}}
	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		r := model.Recipient{}
		for i, cell := range row {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				r[keys[i]] = v
			}
		}
		if r.Validate() != nil {
			res.Skipped++
			continue
		}
		r[model.EmailField] = r.Key()
		res.Recipients = append(res.Recipients, r)
	}
	return res
}

// Parse reads an uploaded file, choosing the parser by extension
func Parse(filename string, r io.Reader) (Result, error) {
	var (
		res Result
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		res, err = ParseCSV(r)
	case ".xlsx", ".xlsm":
		res, err = ParseExcel(r)
	default:
		return Result{}, ErrUnsupportedFormat
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if res.Count() == 0 {
		return res, ErrNoValidRecipients
	}
	return res, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
