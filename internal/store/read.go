package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/simrec/simrec/internal/schema"
)

// LineQuery narrows a read. Fields selects a subset of fields (the id is
// always included); Joins names referenced tables whose rows are resolved
// into nested maps in place of the raw foreign-key ids. Join resolution is
// always explicit and recursive over the same join set, never implicit.
type LineQuery struct {
	Fields []string
	Joins  []string
}

func (q *LineQuery) fields() []string {
	if q == nil {
		return nil
	}
	return q.Fields
}

func (q *LineQuery) joins() []string {
	if q == nil {
		return nil
	}
	return q.Joins
}

// GetLine fetches one row as a field-name-keyed map. Negative ids count
// from the most recent row; ids past the end clamp to the last row.
func (d *Database) GetLine(ctx context.Context, table string, lineID int64, q *LineQuery) (map[string]any, error) {
	table = schema.MakeName(table)
	if _, ok := d.reg.Table(table); !ok {
		return nil, newError(ErrCodeLookup, table, "unknown table")
	}
	id, err := d.resolveLineID(ctx, table, lineID)
	if err != nil {
		return nil, err
	}
	rows, err := d.fetchLines(ctx, table, []int64{id}, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, newError(ErrCodeLookup, table, "no row with id %d", id)
	}
	return rows[0], nil
}

// GetLines fetches an explicit set of rows by id, in id order.
func (d *Database) GetLines(ctx context.Context, table string, ids []int64, q *LineQuery) ([]map[string]any, error) {
	table = schema.MakeName(table)
	if _, ok := d.reg.Table(table); !ok {
		return nil, newError(ErrCodeLookup, table, "unknown table")
	}
	return d.fetchLines(ctx, table, ids, q)
}

// GetLinesRange fetches the rows with ids in [first, last]. Zero values
// select the full table; negative bounds count from the most recent row.
// An inverted range after clamping collapses to the single row at first.
func (d *Database) GetLinesRange(ctx context.Context, table string, first, last int64, q *LineQuery) ([]map[string]any, error) {
	table = schema.MakeName(table)
	if _, ok := d.reg.Table(table); !ok {
		return nil, newError(ErrCodeLookup, table, "unknown table")
	}
	n, err := d.NumLines(ctx, table)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if first == 0 {
		first = 1
	}
	if last == 0 {
		last = n
	}
	bounds := []int64{first, last}
	for i, b := range bounds {
		if b < 0 {
			bounds[i] = b + n + 1
		} else if b > n {
			bounds[i] = n
		}
	}
	if bounds[0] < 1 {
		return nil, newError(ErrCodeLookup, table, "row index out of range (table has %d rows)", n)
	}
	if bounds[1] < bounds[0] {
		bounds[1] = bounds[0]
	}
	firstID, err := d.idAt(ctx, table, bounds[0])
	if err != nil {
		return nil, err
	}
	lastID, err := d.idAt(ctx, table, bounds[1])
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, lastID-firstID+1)
	for id := firstID; id <= lastID; id++ {
		ids = append(ids, id)
	}
	return d.fetchLines(ctx, table, ids, q)
}

// Columns converts row-major lines into one column slice per field, the
// batched layout consumed by replay and export.
func Columns(lines []map[string]any) map[string][]any {
	if len(lines) == 0 {
		return nil
	}
	cols := make(map[string][]any)
	for key := range lines[0] {
		col := make([]any, len(lines))
		for i, line := range lines {
			col[i] = line[key]
		}
		cols[key] = col
	}
	return cols
}

// fetchLines runs the selection and the explicit join resolution.
func (d *Database) fetchLines(ctx context.Context, table string, ids []int64, q *LineQuery) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t, _ := d.reg.Table(table)
	fk := t.ForeignKeys()

	selected := d.selection(t, q)
	cols := make([]string, len(selected))
	for i, f := range selected {
		cols[i] = quoteIdent(f.Name)
	}

	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT id, %s FROM %s WHERE id IN (%s) ORDER BY id ASC`,
		strings.Join(cols, ", "), quoteIdent(table), strings.Join(marks, ", "))
	if len(cols) == 0 {
		query = fmt.Sprintf(`SELECT id FROM %s WHERE id IN (%s) ORDER BY id ASC`,
			quoteIdent(table), strings.Join(marks, ", "))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var lines []map[string]any
	for rows.Next() {
		scan := make([]any, len(selected)+1)
		ptrs := make([]any, len(selected)+1)
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select %s: scan: %w", table, err)
		}

		line := make(map[string]any, len(selected)+1)
		line[schema.IDField] = scan[0]
		for i, f := range selected {
			v, err := decodeValue(f.Type, scan[i+1])
			if err != nil {
				return nil, fmt.Errorf("select %s: field %s: %w", table, f.Name, err)
			}
			line[f.Name] = v
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	// Explicit join resolution: replace FK ids with the referenced rows.
	for _, join := range q.joins() {
		join = schema.MakeName(join)
		for field, ref := range fk {
			if ref != join {
				continue
			}
			for _, line := range lines {
				refID, ok := line[field].(int64)
				if !ok {
					continue // NULL reference, nothing to resolve
				}
				nested, err := d.GetLine(ctx, ref, refID, &LineQuery{Fields: q.fields(), Joins: q.joins()})
				if err != nil {
					return nil, err
				}
				line[field] = nested
			}
		}
	}
	return lines, nil
}

// selection returns the field specs to read: the declared order, narrowed
// to the requested subset plus any FK fields a join needs.
func (d *Database) selection(t *schema.TableSpec, q *LineQuery) []schema.FieldSpec {
	want := q.fields()
	if want == nil {
		return t.Fields
	}

	requested := make(map[string]bool, len(want))
	for _, name := range want {
		requested[name] = true
	}
	for _, join := range q.joins() {
		join = schema.MakeName(join)
		for field, ref := range t.ForeignKeys() {
			if ref == join {
				requested[field] = true
			}
		}
	}

	var selected []schema.FieldSpec
	for _, f := range t.Fields {
		if requested[f.Name] {
			selected = append(selected, f)
		}
	}
	return selected
}
