// Package merge combines closed database files into one and rewrites
// table and field names on closed files.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/simrec/simrec/internal/schema"
	"github.com/simrec/simrec/internal/store"
)

// Confirm is consulted before an existing destination file is replaced.
type Confirm func(path string) bool

// Options control a merge run. Without Force or a Confirm callback that
// answers yes, merging onto an existing file refuses to proceed.
type Options struct {
	Confirm Confirm
	Force   bool
	Logger  *zap.SugaredLogger
}

func (o *Options) logger() *zap.SugaredLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop().Sugar()
}

// Files merges the given source database files, in order, into a new
// database at destDir/destName. Tables sharing a name get their schemas
// unioned: fields present in only one source are added to the merged table
// and stay NULL for the rows of the sources that lacked them. Rows are
// appended in source order; foreign-key values are shifted so they keep
// addressing the row they referenced in their source. Returns the path of
// the merged file.
func Files(ctx context.Context, destDir, destName string, sources []string, opts Options) (string, error) {
	log := opts.logger()

	destName = schema.TrimExtension(destName)
	destPath := filepath.Join(destDir, destName+".db")
	if _, err := os.Stat(destPath); err == nil {
		if !opts.Force && (opts.Confirm == nil || !opts.Confirm(destPath)) {
			return "", &store.StoreError{
				Code:    store.ErrCodeDestructive,
				Message: fmt.Sprintf("destination %s already exists; confirm or force to replace it", destPath),
			}
		}
		log.Infow("replacing existing destination", "path", destPath)
	}

	dest, err := store.New(destDir, destName, true)
	if err != nil {
		return "", err
	}
	defer dest.Close(false)

	for _, src := range sources {
		if err := mergeOne(ctx, dest, src, log); err != nil {
			dest.Close(false)
			os.Remove(destPath)
			return "", fmt.Errorf("merge %s: %w", src, err)
		}
	}
	return destPath, nil
}

func mergeOne(ctx context.Context, dest *store.Database, path string, log *zap.SugaredLogger) error {
	src, err := store.Load(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	defer src.Close(false)

	// Row id offsets per table, captured before any of this source's rows
	// land. Creation order puts foreign-key targets first, so by the time a
	// referencing table is copied its target offset is already fixed.
	offsets := make(map[string]int64)
	for _, name := range src.Tables() {
		offsets[name] = 0
		if t, err := dest.Table(name); err == nil {
			n, err := dest.NumLines(ctx, t.Name)
			if err != nil {
				return err
			}
			offsets[name] = n
		}
	}

	for _, name := range src.Tables() {
		t, err := src.Table(name)
		if err != nil {
			return err
		}
		if err := unionSchema(ctx, dest, t); err != nil {
			return err
		}
		if err := copyRows(ctx, dest, src, t, offsets); err != nil {
			return err
		}
		log.Infow("merged table", "table", name, "offset", offsets[name])
	}
	return nil
}

// unionSchema makes dest carry at least the fields of the source table.
// A same-named field with a different type is a schema conflict.
func unionSchema(ctx context.Context, dest *store.Database, t *schema.TableSpec) error {
	declared := userFields(t)

	cur, err := dest.Table(t.Name)
	if err != nil {
		return dest.CreateTable(ctx, t.Name, t.Kind, declared...)
	}
	if cur.Kind != t.Kind {
		return &store.StoreError{
			Code:    store.ErrCodeSchema,
			Table:   t.Name,
			Message: fmt.Sprintf("table kinds differ (%s vs %s)", cur.Kind, t.Kind),
		}
	}

	var missing []schema.FieldSpec
	for _, f := range declared {
		existing, ok := cur.Field(f.Name)
		if !ok {
			missing = append(missing, f)
			continue
		}
		if existing.Type != f.Type || existing.Ref != f.Ref {
			return &store.StoreError{
				Code:    store.ErrCodeSchema,
				Table:   t.Name,
				Message: fmt.Sprintf("field %s has conflicting types (%s vs %s)", f.Name, existing.Type, f.Type),
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return dest.CreateFields(ctx, t.Name, missing...)
}

// copyRows appends every source row, keyed by the destination's unioned
// field set. Fields the source never declared are written as explicit
// NULLs so declared defaults do not rewrite history.
func copyRows(ctx context.Context, dest *store.Database, src *store.Database, t *schema.TableSpec, offsets map[string]int64) error {
	lines, err := src.GetLinesRange(ctx, t.Name, 0, 0, nil)
	if err != nil {
		return err
	}
	merged, err := dest.Table(t.Name)
	if err != nil {
		return err
	}
	fk := merged.ForeignKeys()

	for _, line := range lines {
		values := make(map[string]any, len(merged.Fields))
		for _, f := range merged.Fields {
			v := line[f.Name]
			if ref, ok := fk[f.Name]; ok {
				if id, isID := v.(int64); isID {
					v = id + offsets[ref]
				}
			}
			values[f.Name] = v
		}
		if _, err := dest.AddData(ctx, t.Name, values); err != nil {
			return err
		}
	}
	return nil
}

// userFields strips the reserved columns from a declared field list; the
// destination re-creates those itself.
func userFields(t *schema.TableSpec) []schema.FieldSpec {
	out := make([]schema.FieldSpec, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == schema.IDField || f.Name == schema.DateTimeField {
			continue
		}
		out = append(out, f)
	}
	return out
}
