package recipients

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"

	"github.com/mailpilot/mailpilot/internal/model"
)

func TestParseCSV(t *testing.T) {
	data := "\xEF\xBB\xBF Email ,Name,Company,Note\n" +
		"ANN@Example.com,Ann, Acme ,\n" +
		"not-an-email,Bob,Initech,x\n" +
		",Cy,,\n" +
		"\n" +
		"dee@example.org,Dee\n"

	res, err := ParseCSV(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []model.Recipient{
		{"email": "ann@example.com", "name": "Ann", "company": "Acme"},
		{"email": "dee@example.org", "name": "Dee"},
	}, res.Recipients)
	assert.Equal(t, 2, res.Skipped)
}

func TestParseCSV_Empty(t *testing.T) {
	res, err := ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, res.Count())
}

func writeWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseExcel(t *testing.T) {
	buf := writeWorkbook(t, [][]interface{}{
		{"EMAIL", "Name", "Role"},
		{"ann@example.com", "Ann", "CTO"},
		{"broken", "Bob", "CEO"},
		{"cy@example.com", "", "Dev"},
	})

	res, err := ParseExcel(buf)
	require.NoError(t, err)
	assert.Equal(t, []model.Recipient{
		{"email": "ann@example.com", "name": "Ann", "role": "CTO"},
		{"email": "cy@example.com", "role": "Dev"},
	}, res.Recipients)
	assert.Equal(t, 1, res.Skipped)
}

func TestParse_Dispatch(t *testing.T) {
	_, err := Parse("list.txt", strings.NewReader("email\na@b.co\n"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Parse("list.CSV", strings.NewReader("name\nAnn\n"))
	assert.ErrorIs(t, err, ErrNoValidRecipients)

	res, err := Parse("list.csv", strings.NewReader("email\na@b.co\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count())

	buf := writeWorkbook(t, [][]interface{}{{"email"}, {"x@y.io"}})
	res, err = Parse("book.xlsx", buf)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count())

	_, err = Parse("book.xlsx", strings.NewReader("not a zip"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFromManual(t *testing.T) {
	res := FromManual([]ManualEntry{
		{Email: " Ann@Example.com ", Name: "Ann", CustomNote: "met at expo"},
		{Email: "nope", Name: "Bob"},
		{Email: "cy@example.com", Company: "Acme", Role: " "},
	})

	assert.Equal(t, []model.Recipient{
		{"email": "ann@example.com", "name": "Ann", "custom_note": "met at expo"},
		{"email": "cy@example.com", "company": "Acme"},
	}, res.Recipients)
	assert.Equal(t, 1, res.Skipped)
}

func TestMerge(t *testing.T) {
	existing := []model.Recipient{{"email": "ann@example.com"}, {"email": "bob@example.com"}}
	add := []model.Recipient{{"email": "ANN@example.com", "name": "dup"}, {"email": "cy@example.com"}, {"email": "cy@example.com"}}

	got := Merge(existing, add)
	var emails []string
	for _, r := range got {
		emails = append(emails, r["email"])
	}
	assert.Equal(t, []string{"ann@example.com", "bob@example.com", "cy@example.com"}, emails)
}

func TestSheetsSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v4/spreadsheets/sheet-123/values/Leads")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"range": "Leads!A1:C4",
			"majorDimension": "ROWS",
			"values": [
				["email", "name", "company"],
				["ann@example.com", "Ann", "Acme"],
				["bad address", "Bob"],
				["cy@example.com"]
			]
		}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	src, err := NewSheetsSourceWithOptions(ctx, "sheet-123", "Leads",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	res, err := src.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Recipient{
		{"email": "ann@example.com", "name": "Ann", "company": "Acme"},
		{"email": "cy@example.com"},
	}, res.Recipients)
	assert.Equal(t, 1, res.Skipped)
}

func TestSheetsSource_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"code": 404, "message": "Requested entity was not found."}}`))
	}))
	defer srv.Close()

	src, err := NewSheetsSourceWithOptions(context.Background(), "missing", "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	assert.ErrorContains(t, err, "Sheet1")
}
