package recipients

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a UTF-8 CSV file whose first row is the header. A leading
// byte order mark is ignored.
func ParseCSV(r io.Reader) (Result, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return Result{Recipients: nil}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read header: %w", err)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read rows: %w", err)
	}
	return FromRows(header, rows), nil
}
