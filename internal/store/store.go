package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/simrec/simrec/internal/schema"
)

//go:embed schema.sql
var catalogSQL string

// Database is a named persistent container of tables, one SQLite file each.
// It exposes the schema manager, the row synchronizer and the signal
// dispatcher of a single recording session.
type Database struct {
	db   *sql.DB
	dir  string
	name string

	reg      *schema.Registry
	revision int

	dispatcher *Dispatcher
	session    *Session
}

// New creates a new database file. If a file with the same name already
// exists it is either removed (overwrite) or the new file gets an indexed
// name: record.db, record(1).db, record(2).db and so on.
func New(dir, name string, overwrite bool) (*Database, error) {
	name = schema.TrimExtension(name)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	path := filepath.Join(dir, name+".db")
	if _, err := os.Stat(path); err == nil {
		if overwrite {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("remove existing database: %w", err)
			}
		} else {
			for i := 1; ; i++ {
				indexed := fmt.Sprintf("%s(%d)", name, i)
				if _, err := os.Stat(filepath.Join(dir, indexed+".db")); os.IsNotExist(err) {
					name = indexed
					path = filepath.Join(dir, name+".db")
					break
				}
			}
		}
	}

	d, err := open(dir, name)
	if err != nil {
		return nil, err
	}
	if err := d.setMeta(context.Background(), "session_id", uuid.NewString()); err != nil {
		d.db.Close()
		return nil, err
	}
	return d, nil
}

// Load opens an existing database file and rebuilds the schema registry
// from the catalog.
func Load(dir, name string) (*Database, error) {
	name = schema.TrimExtension(name)
	path := filepath.Join(dir, name+".db")
	if _, err := os.Stat(path); err != nil {
		return nil, newError(ErrCodeLookup, "", "database does not exist (%s)", path)
	}
	d, err := open(dir, name)
	if err != nil {
		return nil, err
	}
	if err := d.loadCatalog(); err != nil {
		d.db.Close()
		return nil, err
	}
	return d, nil
}

// open connects to the file, applies pragmas and creates the catalog tables.
func open(dir, name string) (*Database, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, name+".db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Single writer; keeps SQLITE_BUSY out of the cooperative model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(catalogSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog: %w", err)
	}

	return &Database{
		db:         db,
		dir:        dir,
		name:       name,
		reg:        schema.NewRegistry(),
		dispatcher: NewDispatcher(),
	}, nil
}

// Close closes the connection. With erase the database file is removed,
// which is how non-storing factory sessions clean up after themselves.
func (d *Database) Close(erase bool) error {
	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return err
	}
	d.db = nil
	if erase {
		path := filepath.Join(d.dir, d.name+".db")
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
	}
	return nil
}

// Path returns the directory and file name (without extension) of the
// database file.
func (d *Database) Path() (dir, name string) {
	return d.dir, d.name
}

// SessionID returns the unique token assigned when the file was created.
func (d *Database) SessionID(ctx context.Context) (string, error) {
	return d.getMeta(ctx, "session_id")
}

// MemorySize returns the database file size in bytes.
func (d *Database) MemorySize() (int64, error) {
	info, err := os.Stat(filepath.Join(d.dir, d.name+".db"))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Tables returns the table names in creation order.
func (d *Database) Tables() []string {
	return d.reg.TableNames()
}

// Table returns the declared spec of a table.
func (d *Database) Table(name string) (*schema.TableSpec, error) {
	t, ok := d.reg.Table(schema.MakeName(name))
	if !ok {
		return nil, newError(ErrCodeLookup, schema.MakeName(name), "unknown table")
	}
	return t, nil
}

// Fields returns the declared field names of a table, in order.
func (d *Database) Fields(table string) ([]string, error) {
	t, err := d.Table(table)
	if err != nil {
		return nil, err
	}
	return t.FieldNames(), nil
}

// Describe renders the full architecture of the database.
func (d *Database) Describe() string {
	return d.reg.DescribeAll(d.name)
}

func (d *Database) setMeta(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO _simrec_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

func (d *Database) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM _simrec_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, nil
}

// loadCatalog rebuilds the registry and the revision counter from the
// catalog tables.
func (d *Database) loadCatalog() error {
	rows, err := d.db.Query(`SELECT name, kind FROM _simrec_tables ORDER BY position`)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		if _, err := d.reg.AddTable(name, schema.TableKind(kind)); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	frows, err := d.db.Query(`
		SELECT table_name, field_name, field_type, ref_table, default_value, revision
		FROM _simrec_fields ORDER BY table_name, position
	`)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var table, field, ftype, ref, def string
		var rev int
		if err := frows.Scan(&table, &field, &ftype, &ref, &def, &rev); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		spec := schema.FieldSpec{Name: field, Type: schema.FieldType(ftype), Ref: ref}
		if def != "" {
			v, err := decodeDefault(spec.Type, def)
			if err != nil {
				return fmt.Errorf("load catalog: field %s.%s: %w", table, field, err)
			}
			spec.Default = v
		}
		d.reg.ApplyFields(table, []schema.FieldSpec{spec}, rev)
		if rev > d.revision {
			d.revision = rev
		}
	}
	if err := frows.Err(); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	if rev, err := d.getMeta(context.Background(), "revision"); err == nil {
		if n, err := strconv.Atoi(rev); err == nil && n > d.revision {
			d.revision = n
		}
	}
	return nil
}
