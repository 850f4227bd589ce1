package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrBadSpreadsheet is returned when the upload is not a readable workbook.
var ErrBadSpreadsheet = errors.New("roster: unreadable spreadsheet")

// ImportResult summarises a spreadsheet import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Problems []string `json:"problems,omitempty"`
}

// ImportSpreadsheet reads student rows from the first sheet of an xlsx file
// and upserts them. Columns: A id, B name, C status, D details; row 1 is a
// header. Bad rows are skipped and reported, a write failure aborts.
func ImportSpreadsheet(ctx context.Context, r io.Reader, w Writer) (ImportResult, error) {
	var res ImportResult

	f, err := excelize.OpenReader(r)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrBadSpreadsheet, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return res, fmt.Errorf("%w: no sheets", ErrBadSpreadsheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return res, fmt.Errorf("roster: read sheet %s: %w", sheet, err)
	}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		rec, err := recordFromRow(row)
		if err != nil {
			res.Skipped++
			res.Problems = append(res.Problems, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		if err := w.Upsert(ctx, rec); err != nil {
			return res, fmt.Errorf("roster: upsert %s: %w", rec.ID, err)
		}
		res.Imported++
	}
	return res, nil
}

func recordFromRow(row []string) (StudentRecord, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	status, err := ParseHealthStatus(cell(2))
	if err != nil {
		return StudentRecord{}, err
	}
	rec := StudentRecord{ID: cell(0), Name: cell(1), HealthStatus: status, Details: cell(3)}
	return rec, rec.Validate()
}
