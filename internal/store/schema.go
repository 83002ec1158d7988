package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/simrec/simrec/internal/schema"
)

// quoteIdent quotes a table or column name for use in DDL. Values are never
// interpolated, but identifiers cannot be parameterized.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable adds a new table with optional initial fields. The name is
// harmonized first; creation fails if the harmonized name is taken.
// Exchange tables implicitly carry a _dt_ timestamp field.
func (d *Database) CreateTable(ctx context.Context, name string, kind schema.TableKind, fields ...schema.FieldSpec) error {
	name = schema.MakeName(name)
	if d.reg.Has(name) {
		return newError(ErrCodeSchema, name, "table already exists")
	}

	t, err := d.reg.AddTable(name, kind)
	if err != nil {
		return wrapError(ErrCodeSchema, name, "create table", err)
	}
	if err := d.reg.CheckFields(name, fields); err != nil {
		d.reg.RemoveTable(name) // nothing was executed yet
		return wrapError(ErrCodeSchema, name, "create table", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		d.reg.RemoveTable(name)
		return fmt.Errorf("create table: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE %s (id INTEGER PRIMARY KEY AUTOINCREMENT)`, quoteIdent(name))); err != nil {
		d.reg.RemoveTable(name)
		return fmt.Errorf("create table %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _simrec_tables (name, kind, position) VALUES (?, ?, ?)`,
		name, string(kind), len(d.reg.TableNames())-1); err != nil {
		d.reg.RemoveTable(name)
		return fmt.Errorf("create table %s: catalog: %w", name, err)
	}

	all := fields
	if kind == schema.KindExchange {
		all = append([]schema.FieldSpec{{Name: schema.DateTimeField, Type: schema.FieldDateTime}}, fields...)
	}
	if err := d.addColumns(ctx, tx, t, all); err != nil {
		d.reg.RemoveTable(name)
		return err
	}

	if err := tx.Commit(); err != nil {
		d.reg.RemoveTable(name)
		return fmt.Errorf("create table %s: commit: %w", name, err)
	}
	d.reg.ApplyFields(name, all, d.revision)
	return nil
}

// CreateFields adds fields to an existing table. The whole batch is
// validated before any column is added; a failing spec leaves the table
// untouched. Each successful call bumps the schema revision.
func (d *Database) CreateFields(ctx context.Context, table string, fields ...schema.FieldSpec) error {
	table = schema.MakeName(table)
	t, ok := d.reg.Table(table)
	if !ok {
		return newError(ErrCodeLookup, table, "unknown table")
	}
	if err := d.reg.CheckFields(table, fields); err != nil {
		return wrapError(ErrCodeSchema, table, "create fields", err)
	}

	d.revision++
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		d.revision--
		return fmt.Errorf("create fields: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := d.addColumns(ctx, tx, t, fields); err != nil {
		d.revision--
		return err
	}
	if err := tx.Commit(); err != nil {
		d.revision--
		return fmt.Errorf("create fields: commit: %w", err)
	}
	d.reg.ApplyFields(table, fields, d.revision)
	d.setMeta(ctx, "revision", strconv.Itoa(d.revision))
	return nil
}

// addColumns runs the ALTER TABLE statements and catalog inserts for a
// validated batch of fields. Registry bookkeeping stays with the caller.
func (d *Database) addColumns(ctx context.Context, tx execer, t *schema.TableSpec, fields []schema.FieldSpec) error {
	for i, f := range fields {
		var ddl string
		if f.Type == schema.FieldFK {
			ddl = fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s INTEGER REFERENCES %s(id)`,
				quoteIdent(t.Name), quoteIdent(f.Name), quoteIdent(f.Ref))
		} else {
			ddl = fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`,
				quoteIdent(t.Name), quoteIdent(f.Name), f.Type.SQLType())
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", t.Name, f.Name, err)
		}

		def, err := encodeDefault(f.Default)
		if err != nil {
			return fmt.Errorf("add column %s.%s: %w", t.Name, f.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO _simrec_fields (table_name, field_name, field_type, ref_table, default_value, revision, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.Name, f.Name, string(f.Type), f.Ref, def, d.revision, len(t.Fields)+i); err != nil {
			return fmt.Errorf("add column %s.%s: catalog: %w", t.Name, f.Name, err)
		}
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RenameTable renames a table and rewrites the catalog and every foreign
// key that targets it.
func (d *Database) RenameTable(ctx context.Context, name, newName string) error {
	name = schema.MakeName(name)
	newName = schema.MakeName(newName)
	if !d.reg.Has(name) {
		return newError(ErrCodeLookup, name, "unknown table")
	}
	if d.reg.Has(newName) {
		return newError(ErrCodeSchema, newName, "table already exists")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rename table: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`,
		quoteIdent(name), quoteIdent(newName))); err != nil {
		return fmt.Errorf("rename table %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _simrec_tables SET name = ? WHERE name = ?`, newName, name); err != nil {
		return fmt.Errorf("rename table %s: catalog: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _simrec_fields SET table_name = ? WHERE table_name = ?`, newName, name); err != nil {
		return fmt.Errorf("rename table %s: catalog: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _simrec_fields SET ref_table = ? WHERE ref_table = ?`, newName, name); err != nil {
		return fmt.Errorf("rename table %s: catalog: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rename table %s: commit: %w", name, err)
	}
	return d.reg.RenameTable(name, newName)
}

// RenameField renames a field. Reserved fields stay put.
func (d *Database) RenameField(ctx context.Context, table, field, newField string) error {
	table = schema.MakeName(table)
	t, ok := d.reg.Table(table)
	if !ok {
		return newError(ErrCodeLookup, table, "unknown table")
	}
	if field == schema.IDField || field == schema.DateTimeField {
		return newError(ErrCodeSchema, table, "field %q cannot be renamed", field)
	}
	if _, ok := t.Field(field); !ok {
		return newError(ErrCodeLookup, table, "unknown field %q", field)
	}
	if _, ok := t.Field(newField); ok {
		return newError(ErrCodeSchema, table, "field %q already exists", newField)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rename field: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`,
		quoteIdent(table), quoteIdent(field), quoteIdent(newField))); err != nil {
		return fmt.Errorf("rename field %s.%s: %w", table, field, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _simrec_fields SET field_name = ? WHERE table_name = ? AND field_name = ?`,
		newField, table, field); err != nil {
		return fmt.Errorf("rename field %s.%s: catalog: %w", table, field, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rename field %s.%s: commit: %w", table, field, err)
	}
	return d.reg.RenameField(table, field, newField)
}

// RemoveTable drops a table. It fails, modifying nothing, while another
// table still holds a foreign key to it.
func (d *Database) RemoveTable(ctx context.Context, name string) error {
	name = schema.MakeName(name)
	if !d.reg.Has(name) {
		return newError(ErrCodeLookup, name, "unknown table")
	}
	if refs := d.reg.ReferencedBy(name); len(refs) > 0 {
		return newError(ErrCodeSchema, name, "table is referenced by foreign key %s.%s", refs[0][0], refs[0][1])
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove table: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("remove table %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _simrec_tables WHERE name = ?`, name); err != nil {
		return fmt.Errorf("remove table %s: catalog: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _simrec_fields WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("remove table %s: catalog: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove table %s: commit: %w", name, err)
	}
	return d.reg.RemoveTable(name)
}

// RemoveField drops a field. The id and _dt_ columns are protected; the id
// column is also what every foreign key resolves against, so a table that
// is an FK target keeps its join key intact by construction.
func (d *Database) RemoveField(ctx context.Context, table, field string) error {
	table = schema.MakeName(table)
	t, ok := d.reg.Table(table)
	if !ok {
		return newError(ErrCodeLookup, table, "unknown table")
	}
	if field == schema.IDField || field == schema.DateTimeField {
		return newError(ErrCodeSchema, table, "field %q cannot be removed", field)
	}
	if _, ok := t.Field(field); !ok {
		return newError(ErrCodeLookup, table, "unknown field %q", field)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove field: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`,
		quoteIdent(table), quoteIdent(field))); err != nil {
		return fmt.Errorf("remove field %s.%s: %w", table, field, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM _simrec_fields WHERE table_name = ? AND field_name = ?`,
		table, field); err != nil {
		return fmt.Errorf("remove field %s.%s: catalog: %w", table, field, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove field %s.%s: commit: %w", table, field, err)
	}
	return d.reg.RemoveField(table, field)
}
