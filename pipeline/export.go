package pipeline

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// Output formats accepted by NewExporter.
const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatDual   = "dual"
	FormatSQLite = "sqlite"
)

// Exporter writes the final item collection to a tabular file.
type Exporter struct {
	format string
	path   string
}

// NewExporter returns an exporter for format writing to path. For the dual
// format path names the CSV file and the JSON lines file sits beside it.
func NewExporter(format, path string) (*Exporter, error) {
	switch format {
	case FormatCSV, FormatJSON, FormatDual, FormatSQLite:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	if path == "" {
		return nil, fmt.Errorf("output path cannot be empty")
	}
	return &Exporter{format: format, path: path}, nil
}

// Paths lists the files an export produces.
func (e *Exporter) Paths() []string {
	if e.format == FormatDual {
		return []string{e.path, jsonSibling(e.path)}
	}
	return []string{e.path}
}

func jsonSibling(path string) string {
	return strings.TrimSuffix(path, ".csv") + ".json"
}

func (e *Exporter) open() (OutputWriter, error) {
	switch e.format {
	case FormatJSON:
		return NewJSONWriter(e.path)
	case FormatDual:
		return NewDualWriter(e.path, jsonSibling(e.path))
	case FormatSQLite:
		return NewSQLiteWriter(e.path)
	default:
		return NewCSVWriter(e.path)
	}
}

// Export writes items in order. The columns come from the first item's
// record. An empty collection is rejected with ErrNoRecords.
func (e *Exporter) Export(items []*models.Item) error {
	records := models.Records(items)
	if len(records) == 0 {
		return ErrNoRecords
	}

	w, err := e.open()
	if err != nil {
		return &PersistenceError{Op: "export", Path: e.path, Err: err}
	}
	if err := w.Write(records); err != nil {
		w.Close()
		return &PersistenceError{Op: "export", Path: e.path, Err: err}
	}
	if err := w.Validate(); err != nil {
		w.Close()
		return &PersistenceError{Op: "export", Path: e.path, Err: err}
	}
	if err := w.Close(); err != nil {
		return &PersistenceError{Op: "export", Path: e.path, Err: err}
	}
	return nil
}
