// Package lawtable loads the reference table linking dark-pattern
// predicates to categories and categories to the consumer-protection laws
// they may violate. The table ships as a spreadsheet maintained by legal
// reviewers, with one row per predicate: predicate, type, and a JSON array
// of law entries. Law entries are passed through verbatim; this package
// never interprets their contents.
package lawtable

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// row is one predicate entry from the table.
type row struct {
	predicate string
	category  string
	laws      []json.RawMessage
}

// Table maps predicates to categories and categories to law entries.
// Lookups are case-insensitive. A nil or empty Table is valid and returns
// zero values from every lookup.
type Table struct {
	rows        []row
	byPredicate map[string]int // lowercased predicate -> rows index
	byCategory  map[string]int // lowercased category -> rows index, first wins
}

// Empty returns a table with no entries.
func Empty() *Table {
	return &Table{
		byPredicate: map[string]int{},
		byCategory:  map[string]int{},
	}
}

// Load reads a law table from a .csv or .xlsx file, dispatching on the
// file extension.
func Load(path string) (*Table, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening law table: %w", err)
		}
		defer f.Close()
		return LoadCSV(f)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported law table format %q", ext)
	}
}

// LoadCSV parses a law table from CSV with a header row naming at least
// the predicate, type, and laws columns.
func LoadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading law table csv: %w", err)
	}
	return fromRecords(records)
}

// LoadXLSX parses a law table from the first sheet of an xlsx workbook.
func LoadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening law table workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("law table workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading law table sheet %q: %w", sheets[0], err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("law table is empty")
	}

	// Column positions come from the header row.
	predCol, typeCol, lawsCol := -1, -1, -1
	for i, h := range records[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "predicate":
			predCol = i
		case "type", "category":
			typeCol = i
		case "laws":
			lawsCol = i
		}
	}
	if predCol < 0 || typeCol < 0 || lawsCol < 0 {
		return nil, fmt.Errorf("law table header must name predicate, type, and laws columns")
	}

	t := Empty()
	for n, rec := range records[1:] {
		if len(rec) <= predCol || len(rec) <= typeCol {
			slog.Warn("lawtable: skipping short row", "row", n+2)
			continue
		}
		predicate := strings.TrimSpace(rec[predCol])
		category := strings.TrimSpace(rec[typeCol])
		if predicate == "" || category == "" {
			slog.Warn("lawtable: skipping row with empty predicate or type", "row", n+2)
			continue
		}

		var laws []json.RawMessage
		if len(rec) > lawsCol {
			if raw := strings.TrimSpace(rec[lawsCol]); raw != "" {
				if err := json.Unmarshal([]byte(raw), &laws); err != nil {
					// A broken laws cell still leaves the predicate mapping usable.
					slog.Warn("lawtable: unparseable laws JSON, keeping row without laws",
						"row", n+2, "predicate", predicate, "error", err)
					laws = nil
				}
			}
		}

		key := strings.ToLower(predicate)
		if _, dup := t.byPredicate[key]; dup {
			continue // duplicates keep the first occurrence
		}
		t.rows = append(t.rows, row{predicate: predicate, category: category, laws: laws})
		idx := len(t.rows) - 1
		t.byPredicate[key] = idx
		if ck := strings.ToLower(category); ck != "" {
			if _, ok := t.byCategory[ck]; !ok {
				t.byCategory[ck] = idx
			}
		}
	}

	slog.Info("lawtable: loaded", "entries", len(t.rows))
	return t, nil
}

// Len returns the number of predicate entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Category returns the category for a predicate, or "" when the predicate
// is not in the table.
func (t *Table) Category(predicate string) string {
	if t == nil || predicate == "" {
		return ""
	}
	if i, ok := t.byPredicate[strings.ToLower(predicate)]; ok {
		return t.rows[i].category
	}
	return ""
}

// Laws returns the law entries attached to a category. The result is
// never nil so it serializes as a JSON array.
func (t *Table) Laws(category string) []json.RawMessage {
	if t == nil || category == "" {
		return []json.RawMessage{}
	}
	if i, ok := t.byCategory[strings.ToLower(category)]; ok && t.rows[i].laws != nil {
		return t.rows[i].laws
	}
	return []json.RawMessage{}
}
