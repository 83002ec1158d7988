// Package export writes recorded tables out as flat artifacts, one file
// per table, for consumption outside the library.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/simrec/simrec/internal/schema"
	"github.com/simrec/simrec/internal/store"
)

// Format names a supported artifact format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

// Write exports the named tables of an open database. Each table becomes
// one artifact at <base>_<Table>.<ext>, where base is path with any
// extension trimmed. An empty table list exports every table. Returns the
// paths written.
func Write(ctx context.Context, db *store.Database, path string, format Format, tables ...string) ([]string, error) {
	if len(tables) == 0 {
		tables = db.Tables()
	}
	base := schema.TrimExtension(path)

	var written []string
	for _, table := range tables {
		t, err := db.Table(table)
		if err != nil {
			return written, err
		}
		lines, err := db.GetLinesRange(ctx, t.Name, 0, 0, nil)
		if err != nil {
			return written, err
		}

		out := fmt.Sprintf("%s_%s.%s", base, t.Name, format)
		switch format {
		case FormatCSV:
			err = writeCSV(out, t, lines)
		case FormatJSON:
			err = writeJSON(out, t, lines)
		default:
			err = fmt.Errorf("unknown export format %q", format)
		}
		if err != nil {
			return written, fmt.Errorf("export %s: %w", t.Name, err)
		}
		written = append(written, out)
	}
	return written, nil
}

// writeCSV writes one table as CSV. The header is the id followed by the
// fields in declared order; rows keep that order.
func writeCSV(path string, t *schema.TableSpec, lines []map[string]any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := append([]string{schema.IDField}, t.FieldNames()...)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, line := range lines {
		row := make([]string, len(header))
		for i, name := range header {
			cell, err := formatCell(line[name])
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// formatCell renders one value as a CSV cell. NULL cells stay empty.
func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	default:
		// Arrays and anything structured become JSON text.
		data, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

type fieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
}

type tableDump struct {
	Table  string           `json:"table"`
	Kind   string           `json:"kind"`
	Fields []fieldInfo      `json:"fields"`
	Lines  []map[string]any `json:"lines"`
}

// writeJSON writes one table as an indented JSON document carrying the
// field declarations alongside the rows.
func writeJSON(path string, t *schema.TableSpec, lines []map[string]any) error {
	dump := tableDump{
		Table:  t.Name,
		Kind:   string(t.Kind),
		Fields: make([]fieldInfo, len(t.Fields)),
		Lines:  lines,
	}
	for i, f := range t.Fields {
		dump.Fields[i] = fieldInfo{Name: f.Name, Type: string(f.Type), Ref: f.Ref}
	}
	if dump.Lines == nil {
		dump.Lines = []map[string]any{}
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
