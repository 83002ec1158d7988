package merge

import (
	"context"
	"sort"

	"github.com/simrec/simrec/internal/store"
)

// The refactor entry points rewrite the schema of a closed database file
// in place. Each call opens the file, applies every change, and closes it
// again; a failing change leaves the remaining ones unapplied.

// RenameTables applies old-name to new-name table renames.
func RenameTables(ctx context.Context, dir, name string, renames map[string]string) error {
	return withFile(dir, name, func(d *store.Database) error {
		for _, old := range sortedKeys(renames) {
			if err := d.RenameTable(ctx, old, renames[old]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RenameFields applies old-name to new-name field renames on one table.
func RenameFields(ctx context.Context, dir, name, table string, renames map[string]string) error {
	return withFile(dir, name, func(d *store.Database) error {
		for _, old := range sortedKeys(renames) {
			if err := d.RenameField(ctx, table, old, renames[old]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveTables drops whole tables. Dropping a foreign-key target fails.
func RemoveTables(ctx context.Context, dir, name string, tables ...string) error {
	return withFile(dir, name, func(d *store.Database) error {
		for _, table := range tables {
			if err := d.RemoveTable(ctx, table); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveFields drops fields from one table. Reserved fields stay.
func RemoveFields(ctx context.Context, dir, name, table string, fields ...string) error {
	return withFile(dir, name, func(d *store.Database) error {
		for _, field := range fields {
			if err := d.RemoveField(ctx, table, field); err != nil {
				return err
			}
		}
		return nil
	})
}

func withFile(dir, name string, fn func(*store.Database) error) error {
	d, err := store.Load(dir, name)
	if err != nil {
		return err
	}
	defer d.Close(false)
	return fn(d)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
