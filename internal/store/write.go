package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/simrec/simrec/internal/schema"
)

// batchChunkSize bounds the number of rows per INSERT inside a batch
// transaction.
const batchChunkSize = 100

// AddData inserts one row, filling unspecified fields with their declared
// default (NULL when none). Returns the new row id.
//
// Two conveniences carried over from dynamic recording scripts: a table
// that does not exist yet is created on the fly from the value types, and
// unknown fields on a still-empty table are added on the fly. Unknown
// fields on a non-empty table are a shape error.
//
// A map value on a foreign-key field inserts into the referenced table
// first and stores the resulting row id.
func (d *Database) AddData(ctx context.Context, table string, values map[string]any) (int64, error) {
	table = schema.MakeName(table)

	if !d.reg.Has(table) {
		specs, err := inferFields(values)
		if err != nil {
			return 0, wrapError(ErrCodeShape, table, "add data", err)
		}
		if err := d.CreateTable(ctx, table, schema.KindStoring, specs...); err != nil {
			return 0, err
		}
	}
	t, _ := d.reg.Table(table)

	// Resolve nested foreign-key rows before touching this table.
	values, err := d.resolveForeignRows(ctx, t, values)
	if err != nil {
		return 0, err
	}

	if err := d.ensureFields(ctx, t, values); err != nil {
		return 0, err
	}

	row, err := d.fillRow(t, values)
	if err != nil {
		return 0, err
	}

	if err := d.dispatcher.firePre(table, row); err != nil {
		return 0, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add data: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Exchange tables only ever hold their latest row; ids keep counting.
	if t.Kind == schema.KindExchange {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quoteIdent(table))); err != nil {
			return 0, fmt.Errorf("add data: clear exchange table %s: %w", table, err)
		}
	}

	id, err := insertRow(ctx, tx, t, row)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add data: commit: %w", err)
	}

	if d.session != nil {
		d.session.rowAdded(table)
	}

	committed := make(map[string]any, len(row)+1)
	for k, v := range row {
		committed[k] = v
	}
	committed[schema.IDField] = id
	if err := d.dispatcher.firePost(table, committed); err != nil {
		return id, err
	}
	return id, nil
}

// AddBatch inserts N rows in one transaction, where N is the common length
// of all column slices. Mismatched lengths fail before any row is written.
// A column map on a foreign-key field batch-inserts into the referenced
// table first. Returns the new row ids in order.
func (d *Database) AddBatch(ctx context.Context, table string, columns map[string][]any) ([]int64, error) {
	table = schema.MakeName(table)

	if !d.reg.Has(table) {
		first := make(map[string]any, len(columns))
		for name, col := range columns {
			if len(col) == 0 {
				return nil, newError(ErrCodeShape, table, "empty column %q in batch", name)
			}
			first[name] = col[0]
		}
		specs, err := inferFields(first)
		if err != nil {
			return nil, wrapError(ErrCodeShape, table, "add batch", err)
		}
		if err := d.CreateTable(ctx, table, schema.KindStoring, specs...); err != nil {
			return nil, err
		}
	}
	t, _ := d.reg.Table(table)
	fk := t.ForeignKeys()

	// Nested batches on FK columns resolve to id columns first.
	resolved := make(map[string][]any, len(columns))
	for name, col := range columns {
		if ref, ok := fk[name]; ok && len(col) == 1 {
			if nested, isNested := col[0].(map[string][]any); isNested {
				ids, err := d.AddBatch(ctx, ref, nested)
				if err != nil {
					return nil, err
				}
				idCol := make([]any, len(ids))
				for i, id := range ids {
					idCol[i] = id
				}
				resolved[name] = idCol
				continue
			}
		}
		resolved[name] = col
	}

	n := -1
	for name, col := range resolved {
		if n == -1 {
			n = len(col)
		} else if len(col) != n {
			return nil, newError(ErrCodeShape, table,
				"mismatched batch lengths: column %q has %d samples, expected %d", name, len(col), n)
		}
	}
	if n <= 0 {
		return nil, newError(ErrCodeShape, table, "empty batch")
	}

	firstRow := make(map[string]any, len(resolved))
	for name, col := range resolved {
		firstRow[name] = col[0]
	}
	if err := d.ensureFields(ctx, t, firstRow); err != nil {
		return nil, err
	}

	// Fill all rows before writing any of them.
	rows := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		values := make(map[string]any, len(resolved))
		for name, col := range resolved {
			values[name] = col[i]
		}
		row, err := d.fillRow(t, values)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}

	for _, row := range rows {
		if err := d.dispatcher.firePre(table, row); err != nil {
			return nil, err
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("add batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	if t.Kind == schema.KindExchange {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quoteIdent(table))); err != nil {
			return nil, fmt.Errorf("add batch: clear exchange table %s: %w", table, err)
		}
	}

	ids := make([]int64, 0, n)
	for start := 0; start < n; start += batchChunkSize {
		end := start + batchChunkSize
		if end > n {
			end = n
		}
		chunkIDs, err := insertRows(ctx, tx, t, rows[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunkIDs...)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("add batch: commit: %w", err)
	}

	if d.session != nil {
		for range rows {
			d.session.rowAdded(table)
		}
	}

	for i, row := range rows {
		committed := make(map[string]any, len(row)+1)
		for k, v := range row {
			committed[k] = v
		}
		committed[schema.IDField] = ids[i]
		if err := d.dispatcher.firePost(table, committed); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// Update mutates only the named fields of one row. Negative ids count back
// from the most recent row (-1 is the last one). Update never creates a
// row. A map value on a foreign-key field updates the referenced row.
func (d *Database) Update(ctx context.Context, table string, lineID int64, values map[string]any) error {
	table = schema.MakeName(table)
	t, ok := d.reg.Table(table)
	if !ok {
		return newError(ErrCodeLookup, table, "unknown table")
	}

	id, err := d.resolveLineID(ctx, table, lineID)
	if err != nil {
		return err
	}

	for name := range values {
		if _, ok := t.Field(name); !ok {
			return newError(ErrCodeShape, table, "unknown field %q; define it with CreateFields first", name)
		}
	}

	fk := t.ForeignKeys()
	assign := make(map[string]any, len(values))
	for name, v := range values {
		if ref, isFK := fk[name]; isFK {
			if nested, isMap := v.(map[string]any); isMap {
				current, err := d.GetLine(ctx, table, id, &LineQuery{Fields: []string{name}})
				if err != nil {
					return err
				}
				refID, _ := current[name].(int64)
				if refID == 0 {
					return newError(ErrCodeLookup, table, "row %d has no %q reference to update", id, name)
				}
				if err := d.Update(ctx, ref, refID, nested); err != nil {
					return err
				}
				continue
			}
		}
		assign[name] = v
	}
	if len(assign) == 0 {
		return nil
	}

	names := make([]string, 0, len(assign))
	for name := range assign {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, name := range names {
		f, _ := t.Field(name)
		enc, err := encodeValue(f.Type, assign[name])
		if err != nil {
			return wrapError(ErrCodeShape, table, "update", err)
		}
		sets[i] = quoteIdent(name) + " = ?"
		args = append(args, enc)
	}
	args = append(args, id)

	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`,
		quoteIdent(table), strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: rows affected: %w", table, err)
	}
	if affected == 0 {
		return newError(ErrCodeLookup, table, "no row with id %d", id)
	}
	return nil
}

// NumLines returns the number of rows in a table.
func (d *Database) NumLines(ctx context.Context, table string) (int64, error) {
	table = schema.MakeName(table)
	if !d.reg.Has(table) {
		return 0, newError(ErrCodeLookup, table, "unknown table")
	}
	var n int64
	if err := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// resolveLineID applies the addressing rules shared by Update and the read
// path: negative indices count from the most recent row, indices past the
// end clamp to the last row, and anything below 1 is a lookup error. The
// returned value is the actual row id, which can differ from the index on
// exchange tables (cleared rows keep their ids retired).
func (d *Database) resolveLineID(ctx context.Context, table string, lineID int64) (int64, error) {
	n, err := d.NumLines(ctx, table)
	if err != nil {
		return 0, err
	}
	if lineID < 0 {
		lineID += n + 1
	} else if lineID > n {
		lineID = n
	}
	if lineID < 1 {
		return 0, newError(ErrCodeLookup, table, "row index out of range (table has %d rows)", n)
	}
	return d.idAt(ctx, table, lineID)
}

// idAt returns the row id at the 1-based position in id order.
func (d *Database) idAt(ctx context.Context, table string, position int64) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id LIMIT 1 OFFSET ?`,
		quoteIdent(table)), position-1).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve row %d of %s: %w", position, table, err)
	}
	return id, nil
}

// resolveForeignRows replaces map values on FK fields with the row id
// produced by inserting them into the referenced table.
func (d *Database) resolveForeignRows(ctx context.Context, t *schema.TableSpec, values map[string]any) (map[string]any, error) {
	fk := t.ForeignKeys()
	if len(fk) == 0 {
		return values, nil
	}
	out := make(map[string]any, len(values))
	for name, v := range values {
		if ref, ok := fk[name]; ok {
			if nested, isMap := v.(map[string]any); isMap {
				id, err := d.AddData(ctx, ref, nested)
				if err != nil {
					return nil, err
				}
				out[name] = id
				continue
			}
		}
		out[name] = v
	}
	return out, nil
}

// ensureFields checks every value key against the declared fields. Unknown
// fields are created on the fly while the table is empty; on a non-empty
// table they are a shape error.
func (d *Database) ensureFields(ctx context.Context, t *schema.TableSpec, values map[string]any) error {
	missing := make(map[string]any)
	for name, v := range values {
		if _, ok := t.Field(name); !ok {
			missing[name] = v
		}
	}
	if len(missing) == 0 {
		return nil
	}

	n, err := d.NumLines(ctx, t.Name)
	if err != nil {
		return err
	}
	if n > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return newError(ErrCodeShape, t.Name,
			"fields %v are not defined and the table is non-empty; define them with CreateFields first", names)
	}

	specs, err := inferFields(missing)
	if err != nil {
		return wrapError(ErrCodeShape, t.Name, "infer fields", err)
	}
	return d.CreateFields(ctx, t.Name, specs...)
}

// fillRow builds the complete row: provided values coerced to their field
// types, unspecified fields at their declared default or nil, and an unset
// _dt_ stamped with the current time.
func (d *Database) fillRow(t *schema.TableSpec, values map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		v, provided := values[f.Name]
		switch {
		case provided:
			row[f.Name] = v
		case f.Default != nil:
			row[f.Name] = f.Default
		case f.Name == schema.DateTimeField:
			row[f.Name] = time.Now().UTC()
		default:
			row[f.Name] = nil
		}
	}
	return row, nil
}

// insertRow writes one filled row and returns the generated id.
func insertRow(ctx context.Context, tx *sql.Tx, t *schema.TableSpec, row map[string]any) (int64, error) {
	if len(row) == 0 {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES`, quoteIdent(t.Name)))
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
		}
		return res.LastInsertId()
	}

	names := make([]string, 0, len(row))
	for _, f := range t.Fields {
		if _, ok := row[f.Name]; ok {
			names = append(names, f.Name)
		}
	}

	cols := make([]string, len(names))
	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		f, _ := t.Field(name)
		enc, err := encodeValue(f.Type, row[name])
		if err != nil {
			return 0, wrapError(ErrCodeShape, t.Name, "insert", err)
		}
		cols[i] = quoteIdent(name)
		marks[i] = "?"
		args[i] = enc
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(t.Name), strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	return res.LastInsertId()
}

// insertRows writes a chunk of filled rows with one multi-row INSERT and
// returns their ids in order. All rows share the table's field layout, so
// the column list of the first row holds for the chunk.
func insertRows(ctx context.Context, tx *sql.Tx, t *schema.TableSpec, rows []map[string]any) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) == 0 {
		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			id, err := insertRow(ctx, tx, t, row)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	names := make([]string, 0, len(rows[0]))
	for _, f := range t.Fields {
		if _, ok := rows[0][f.Name]; ok {
			names = append(names, f.Name)
		}
	}

	cols := make([]string, len(names))
	marks := make([]string, len(names))
	for i, name := range names {
		cols[i] = quoteIdent(name)
		marks[i] = "?"
	}
	tuple := "(" + strings.Join(marks, ", ") + ")"

	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(names))
	for i, row := range rows {
		tuples[i] = tuple
		for _, name := range names {
			f, _ := t.Field(name)
			enc, err := encodeValue(f.Type, row[name])
			if err != nil {
				return nil, wrapError(ErrCodeShape, t.Name, "insert", err)
			}
			args = append(args, enc)
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`,
		quoteIdent(t.Name), strings.Join(cols, ", "), strings.Join(tuples, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", t.Name, err)
	}
	last, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", t.Name, err)
	}

	// SQLite assigns consecutive rowids within one statement; LastInsertId
	// is the id of the final row of the chunk.
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = last - int64(len(rows)) + int64(i) + 1
	}
	return ids, nil
}

// inferFields derives field specs from value types, used when tables or
// fields are created on the fly. Field order is alphabetical so inference
// is deterministic.
func inferFields(values map[string]any) ([]schema.FieldSpec, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]schema.FieldSpec, 0, len(names))
	for _, name := range names {
		ft, ok := schema.TypeOf(values[name])
		if !ok {
			return nil, fmt.Errorf("cannot infer a field type for %q from value %v (%T)", name, values[name], values[name])
		}
		specs = append(specs, schema.FieldSpec{Name: name, Type: ft})
	}
	return specs, nil
}
