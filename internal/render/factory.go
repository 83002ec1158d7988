package render

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simrec/simrec/internal/schema"
	"github.com/simrec/simrec/internal/store"
)

// Object is one registered visual object. Objects are created once, get a
// factory-local sequential id, and are never removed during a session.
type Object struct {
	ID    int
	Kind  Kind
	Table string

	dirty bool
}

// Factory records visual objects into backing tables, one table per
// object, named <Kind>_<factoryIndex>_<objectID>. Render ends the current
// step: objects that received no write get one default row, so row id k in
// every backing table is the same frame.
//
// Several factories can share one database; give each its own index. The
// factory itself is not safe for concurrent use.
type Factory struct {
	db      *store.Database
	index   int
	storing bool
	log     *zap.SugaredLogger

	objects []*Object
	steps   int
}

// FactoryOptions configure a Factory. A zero value is usable: index 0,
// storing mode, no logging.
type FactoryOptions struct {
	Index   int
	Storing bool
	Logger  *zap.SugaredLogger
}

// NewFactory wraps an open database.
func NewFactory(db *store.Database, opts FactoryOptions) *Factory {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Factory{db: db, index: opts.Index, storing: opts.Storing, log: log}
}

func (f *Factory) AddMesh(ctx context.Context, values map[string]any) (int, error) {
	return f.add(ctx, KindMesh, values)
}
func (f *Factory) AddPoints(ctx context.Context, values map[string]any) (int, error) {
	return f.add(ctx, KindPoints, values)
}
func (f *Factory) AddArrows(ctx context.Context, values map[string]any) (int, error) {
	return f.add(ctx, KindArrows, values)
}
func (f *Factory) AddText(ctx context.Context, values map[string]any) (int, error) {
	return f.add(ctx, KindText, values)
}

// AddMarkers creates a marker object. The normal_to attribute is the id of
// a Mesh or Points object of this factory; it is stored as that object's
// backing table name.
func (f *Factory) AddMarkers(ctx context.Context, values map[string]any) (int, error) {
	target, ok := values["normal_to"]
	if ok {
		id, isInt := asObjectID(target)
		if !isInt {
			return 0, shapeErr("", "normal_to must be the id of a Mesh or Points object (got %T)", target)
		}
		obj, err := f.Object(id)
		if err != nil {
			return 0, err
		}
		if obj.Kind != KindMesh && obj.Kind != KindPoints {
			return 0, shapeErr(obj.Table, "markers attach to Mesh or Points objects, object %d is a %s", id, obj.Kind)
		}
		copied := make(map[string]any, len(values))
		for k, v := range values {
			copied[k] = v
		}
		copied["normal_to"] = obj.Table
		values = copied
	}
	return f.add(ctx, KindMarkers, values)
}

func (f *Factory) UpdateMesh(ctx context.Context, id int, values map[string]any) error {
	return f.update(ctx, KindMesh, id, values)
}
func (f *Factory) UpdatePoints(ctx context.Context, id int, values map[string]any) error {
	return f.update(ctx, KindPoints, id, values)
}
func (f *Factory) UpdateArrows(ctx context.Context, id int, values map[string]any) error {
	return f.update(ctx, KindArrows, id, values)
}
func (f *Factory) UpdateMarkers(ctx context.Context, id int, values map[string]any) error {
	return f.update(ctx, KindMarkers, id, values)
}
func (f *Factory) UpdateText(ctx context.Context, id int, values map[string]any) error {
	return f.update(ctx, KindText, id, values)
}

func (f *Factory) add(ctx context.Context, kind Kind, values map[string]any) (int, error) {
	if err := checkCreate(kind, values); err != nil {
		return 0, shapeErr("", "%v", err)
	}

	id := len(f.objects)
	table := fmt.Sprintf("%s_%d_%d", kind, f.index, id)
	if err := f.db.CreateTable(ctx, table, schema.KindStoring, fieldSpecs(kind)...); err != nil {
		return 0, err
	}

	// Late-created objects backfill the elapsed steps so frame k is row
	// k+1 in every backing table.
	for i := 0; i < f.steps; i++ {
		if _, err := f.db.AddData(ctx, table, nil); err != nil {
			return 0, err
		}
	}
	if _, err := f.db.AddData(ctx, table, values); err != nil {
		return 0, err
	}

	obj := &Object{ID: id, Kind: kind, Table: table, dirty: true}
	f.objects = append(f.objects, obj)
	f.log.Debugw("object created", "kind", kind, "id", id, "table", table)
	return id, nil
}

func (f *Factory) update(ctx context.Context, kind Kind, id int, values map[string]any) error {
	obj, err := f.Object(id)
	if err != nil {
		return err
	}
	if obj.Kind != kind {
		return lookupErr(obj.Table, "object %d is a %s object; use Update%s", id, obj.Kind, obj.Kind)
	}
	if err := checkUpdate(kind, values); err != nil {
		return shapeErr(obj.Table, "%v", err)
	}

	// First write of the step appends the frame row; every later write
	// within the step overwrites it.
	if !obj.dirty {
		if _, err := f.db.AddData(ctx, obj.Table, values); err != nil {
			return err
		}
		obj.dirty = true
		return nil
	}
	return f.db.Update(ctx, obj.Table, -1, values)
}

// Render ends the current frame. Objects that received no write this step
// get one default row, keeping all backing tables the same length.
func (f *Factory) Render(ctx context.Context) error {
	for _, obj := range f.objects {
		if !obj.dirty {
			if _, err := f.db.AddData(ctx, obj.Table, nil); err != nil {
				return err
			}
		}
		obj.dirty = false
	}
	f.steps++
	f.log.Debugw("frame rendered", "step", f.steps, "objects", len(f.objects))
	return nil
}

// Object resolves a factory-local object id.
func (f *Factory) Object(id int) (*Object, error) {
	if id < 0 || id >= len(f.objects) {
		return nil, lookupErr("", "no object with id %d (factory holds %d)", id, len(f.objects))
	}
	return f.objects[id], nil
}

// Objects returns the registered objects in creation order.
func (f *Factory) Objects() []*Object {
	return f.objects
}

// Steps returns the number of rendered frames.
func (f *Factory) Steps() int {
	return f.steps
}

// Close ends the session. A non-storing factory erases its database file.
func (f *Factory) Close() error {
	return f.db.Close(!f.storing)
}

func asObjectID(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func shapeErr(table, format string, args ...any) error {
	return &store.StoreError{Code: store.ErrCodeShape, Table: table, Message: fmt.Sprintf(format, args...)}
}

func lookupErr(table, format string, args ...any) error {
	return &store.StoreError{Code: store.ErrCodeLookup, Table: table, Message: fmt.Sprintf(format, args...)}
}
