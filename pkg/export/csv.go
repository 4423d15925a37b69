package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVRenderer writes the header row followed by the body. Meta and footer fields
// become two-cell rows around the body so spreadsheet imports keep them.
type CSVRenderer struct{}

// Render implements Renderer.
func (CSVRenderer) Render(t Table) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	for _, field := range t.Meta {
		if err := w.Write([]string{field.Label, field.Value}); err != nil {
			return nil, fmt.Errorf("write csv meta: %w", err)
		}
	}
	if err := w.Write(t.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	for _, field := range t.Footer {
		if err := w.Write([]string{field.Label, field.Value}); err != nil {
			return nil, fmt.Errorf("write csv footer: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
