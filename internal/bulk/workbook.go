package bulk

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joelkehle/discharge-docs/internal/letter"
)

const sheetName = "Ontslagbrieven"

var headers = []string{"enc_id", "department", "outcome", "input_tokens", "generated_doc", "generated_at", "error"}

var columnWidths = []float64{16, 14, 14, 14, 100, 20, 40}

const generatedAtLayout = "2006-01-02 15:04:05"

// WriteWorkbook writes rows as a single-sheet xlsx workbook.
func WriteWorkbook(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	for col, h := range headers {
		if err := setCell(f, col+1, 1, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, row := range rows {
		values := []any{
			row.EncounterID,
			row.Department,
			string(row.Outcome),
			row.Tokens,
			row.Letter,
			"",
			row.Error,
		}
		if !row.GeneratedAt.IsZero() {
			values[5] = row.GeneratedAt.Format(generatedAtLayout)
		}
		for col, v := range values {
			if err := setCell(f, col+1, i+2, v); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// ReadWorkbook loads rows written by WriteWorkbook, e.g. to resume a run.
func ReadWorkbook(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	cells, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(cells) == 0 {
		return nil, nil
	}
	var out []Row
	for n, c := range cells[1:] {
		c = append(c, make([]string, len(headers))...)
		row := Row{
			EncounterID: c[0],
			Department:  c[1],
			Outcome:     letter.Outcome(c[2]),
			Letter:      c[4],
			Error:       c[6],
		}
		if c[3] != "" {
			if row.Tokens, err = strconv.Atoi(c[3]); err != nil {
				return nil, fmt.Errorf("row %d input_tokens: %w", n+2, err)
			}
		}
		if c[5] != "" {
			if row.GeneratedAt, err = time.Parse(generatedAtLayout, c[5]); err != nil {
				return nil, fmt.Errorf("row %d generated_at: %w", n+2, err)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}
