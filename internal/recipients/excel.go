package recipients

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ParseExcel reads the first worksheet of an .xlsx workbook. The first row
// is the header.
func ParseExcel(r io.Reader) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Result{}, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return Result{}, nil
	}
	return FromRows(rows[0], rows[1:]), nil
}
