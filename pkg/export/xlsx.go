package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Report"

// XLSXRenderer writes a single-sheet workbook with a bold header row.
type XLSXRenderer struct{}

// Render implements Renderer.
func (XLSXRenderer) Render(t Table) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	row := 1
	if t.Title != "" {
		if err := f.SetCellValue(sheetName, cell(1, row), t.Title); err != nil {
			return nil, err
		}
		row += 2
	}
	for _, field := range t.Meta {
		if err := writeRow(f, row, []string{field.Label, field.Value}); err != nil {
			return nil, err
		}
		row++
	}
	if len(t.Meta) > 0 {
		row++
	}

	if err := writeRow(f, row, t.Headers); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, cell(1, row), cell(len(t.Headers), row), bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	row++
	for _, values := range t.Rows {
		if err := writeRow(f, row, values); err != nil {
			return nil, err
		}
		row++
	}
	for _, field := range t.Footer {
		row++
		if err := writeRow(f, row, []string{field.Label, field.Value}); err != nil {
			return nil, err
		}
	}

	last, _ := excelize.ColumnNumberToName(len(t.Headers))
	if err := f.SetColWidth(sheetName, "A", last, 18); err != nil {
		return nil, fmt.Errorf("size columns: %w", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row int, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheetName, cell(1, row), &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
