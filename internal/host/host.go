// Package host plugs a recording database into an externally-owned
// simulation loop. The host framework owns the scene graph and the step
// clock; the Recorder only listens.
package host

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/simrec/simrec/internal/schema"
	"github.com/simrec/simrec/internal/store"
)

// Component is one data-bearing object of the host's object model.
type Component interface {
	// Value reads a named data field. The recorder calls this at every
	// step end for each bound field.
	Value(dataField string) (any, error)
}

// Scene is the host's scene graph. Paths use the host's own addressing,
// typically "@node.component".
type Scene interface {
	Resolve(path string) (Component, error)
}

type binding struct {
	table     string
	field     string
	path      string
	dataField string
	comp      Component
}

// Recorder snapshots bound component fields into a database, one row per
// table per step. Writes the host performs mid-step through AddData
// collapse into that step's row instead of appending.
type Recorder struct {
	db    *store.Database
	scene Scene
	log   *zap.SugaredLogger

	bindings []binding
	bound    map[string]bool // table.field pairs already taken
	dirty    map[string]bool // tables with a row this step
	inStep   bool
	steps    int
}

func NewRecorder(db *store.Database, scene Scene, logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{
		db:    db,
		scene: scene,
		log:   logger,
		bound: make(map[string]bool),
		dirty: make(map[string]bool),
	}
}

// AddCallback binds table.field to the dataField of the component at the
// given scene path. Table and field are created on demand; the field type
// is inferred from the component's current value. Binding the same
// table.field twice fails.
func (r *Recorder) AddCallback(ctx context.Context, table, field, path, dataField string) error {
	table = schema.MakeName(table)
	key := table + "." + field
	if r.bound[key] {
		return fmt.Errorf("field %s is already bound", key)
	}

	comp, err := r.scene.Resolve(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	sample, err := comp.Value(dataField)
	if err != nil {
		return fmt.Errorf("read %s of %s: %w", dataField, path, err)
	}
	ft, ok := schema.TypeOf(sample)
	if !ok {
		return fmt.Errorf("bind %s: no field type holds %T values", key, sample)
	}

	if _, tableErr := r.db.Table(table); tableErr != nil {
		if err := r.db.CreateTable(ctx, table, schema.KindStoring,
			schema.FieldSpec{Name: field, Type: ft}); err != nil {
			return err
		}
	} else if fields, err := r.db.Fields(table); err != nil {
		return err
	} else if !contains(fields, field) {
		if err := r.db.CreateFields(ctx, table,
			schema.FieldSpec{Name: field, Type: ft}); err != nil {
			return err
		}
	}

	r.bindings = append(r.bindings, binding{
		table: table, field: field, path: path, dataField: dataField, comp: comp,
	})
	r.bound[key] = true
	r.log.Infow("field bound", "table", table, "field", field, "path", path, "data", dataField)
	return nil
}

// OnStepBegin is the host's step-start notification.
func (r *Recorder) OnStepBegin() {
	r.dirty = make(map[string]bool)
	r.inStep = true
}

// OnStepEnd is the host's step-end notification. Every bound table gets
// one row read from its components; unbound tables the host wrote during
// the step keep their collapsed row, and every other table is filled with
// a default row so all tables stay step-aligned.
func (r *Recorder) OnStepEnd(ctx context.Context) error {
	rows := make(map[string]map[string]any)
	var order []string
	for _, b := range r.bindings {
		v, err := b.comp.Value(b.dataField)
		if err != nil {
			return fmt.Errorf("read %s of %s: %w", b.dataField, b.path, err)
		}
		if rows[b.table] == nil {
			rows[b.table] = make(map[string]any)
			order = append(order, b.table)
		}
		rows[b.table][b.field] = v
	}

	for _, table := range order {
		if err := r.writeStepRow(ctx, table, rows[table]); err != nil {
			return err
		}
	}
	for _, table := range r.db.Tables() {
		if rows[table] == nil && !r.dirty[table] {
			if _, err := r.db.AddData(ctx, table, nil); err != nil {
				return err
			}
		}
	}

	r.inStep = false
	r.steps++
	return nil
}

// AddData records host data mid-step. The first write of a step appends
// the step's row, later ones update it in place.
func (r *Recorder) AddData(ctx context.Context, table string, values map[string]any) error {
	table = schema.MakeName(table)
	if r.inStep {
		return r.writeStepRow(ctx, table, values)
	}
	_, err := r.db.AddData(ctx, table, values)
	return err
}

func (r *Recorder) writeStepRow(ctx context.Context, table string, values map[string]any) error {
	if r.dirty[table] {
		return r.db.Update(ctx, table, -1, values)
	}
	if _, err := r.db.AddData(ctx, table, values); err != nil {
		return err
	}
	r.dirty[table] = true
	return nil
}

// Steps returns the number of completed steps.
func (r *Recorder) Steps() int {
	return r.steps
}

// Describe renders the database description with each bound field
// annotated by its source path.
func (r *Recorder) Describe() string {
	var b strings.Builder
	b.WriteString(r.db.Describe())

	if len(r.bindings) == 0 {
		return b.String()
	}
	b.WriteString("\nBound fields:\n")
	lines := make([]string, len(r.bindings))
	for i, bd := range r.bindings {
		lines[i] = fmt.Sprintf("  - %s.%s <- %s.%s", bd.table, bd.field, bd.path, bd.dataField)
	}
	sort.Strings(lines)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
