package export

import (
	"fmt"
	"strings"
)

// Format selects a document encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv, pdf or xlsx in any case. An empty value means csv.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", value)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Field is a labelled value printed above the table body.
type Field struct {
	Label string
	Value string
}

// Table is a titled grid of cells. Every row should have len(Headers) cells.
type Table struct {
	Title   string
	Meta    []Field
	Headers []string
	Rows    [][]string
	Footer  []Field
}

func (t Table) check() error {
	if len(t.Headers) == 0 {
		return fmt.Errorf("table %q has no columns", t.Title)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Headers) {
			return fmt.Errorf("table %q row %d has %d cells, want %d", t.Title, i, len(row), len(t.Headers))
		}
	}
	return nil
}

// Renderer encodes a table.
type Renderer interface {
	Render(t Table) ([]byte, error)
}

// NewRenderer returns the renderer for the format.
func NewRenderer(f Format) (Renderer, error) {
	switch f {
	case FormatCSV:
		return CSVRenderer{}, nil
	case FormatPDF:
		return PDFRenderer{}, nil
	case FormatXLSX:
		return XLSXRenderer{}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}
