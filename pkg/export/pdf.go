package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const pageWidth = 190.0

// PDFRenderer lays the table out on A4, landscape when it has more than six columns.
type PDFRenderer struct{}

// Render implements Renderer.
func (PDFRenderer) Render(t Table) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	orientation, width := "P", pageWidth
	if len(t.Headers) > 6 {
		orientation, width = "L", 277.0
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if t.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(t.Title), "", 1, "C", false, 0, "")
		pdf.Ln(2)
	}
	writeFields(pdf, tr, t.Meta)

	colWidth := width / float64(len(t.Headers))
	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, h := range t.Headers {
			pdf.CellFormat(colWidth, 7, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}
	header()
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range t.Rows {
		if pdf.GetY()+6 > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		for _, value := range row {
			pdf.CellFormat(colWidth, 6, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(3)
	writeFields(pdf, tr, t.Footer)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFields(pdf *gofpdf.Fpdf, tr func(string) string, fields []Field) {
	if len(fields) == 0 {
		return
	}
	for _, field := range fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 6, tr(field.Label), "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, tr(field.Value), "", 1, "", false, 0, "")
	}
	pdf.Ln(3)
}
