package schema

import "fmt"

// Registry is the in-memory view of a database's declared tables. It owns
// all declaration-time validation: duplicate names, reserved names, and
// foreign-key targets. Because an FK may only reference a table that already
// exists at declaration time, the FK edges always form a DAG.
type Registry struct {
	tables map[string]*TableSpec
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*TableSpec)}
}

// Tables returns the table specs in creation order.
func (r *Registry) Tables() []*TableSpec {
	specs := make([]*TableSpec, len(r.order))
	for i, name := range r.order {
		specs[i] = r.tables[name]
	}
	return specs
}

// TableNames returns the table names in creation order.
func (r *Registry) TableNames() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Table returns the spec of the named table, or false if it does not exist.
func (r *Registry) Table(name string) (*TableSpec, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Has reports whether the named table exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.tables[name]
	return ok
}

// AddTable registers a new table. Fails if the name is already taken.
// Field validation happens separately through CheckFields, so a failed field
// declaration never leaves a half-registered table behind.
func (r *Registry) AddTable(name string, kind TableKind) (*TableSpec, error) {
	if _, ok := r.tables[name]; ok {
		return nil, fmt.Errorf("table %q already exists", name)
	}
	t := &TableSpec{Name: name, Kind: kind}
	r.tables[name] = t
	r.order = append(r.order, name)
	return t, nil
}

// CheckFields validates a batch of field declarations against an existing
// table. All specs are checked before any is applied: either the whole batch
// is admissible or none of it is.
func (r *Registry) CheckFields(table string, fields []FieldSpec) error {
	t, ok := r.tables[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	seen := make(map[string]bool)
	for _, f := range fields {
		if f.Name == IDField || f.Name == DateTimeField {
			return fmt.Errorf("table %q: field name %q is reserved", table, f.Name)
		}
		if _, ok := t.Field(f.Name); ok {
			return fmt.Errorf("table %q: field %q already exists", table, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("table %q: field %q declared twice", table, f.Name)
		}
		seen[f.Name] = true
		if f.Type == FieldFK {
			if !r.Has(f.Ref) {
				return fmt.Errorf("table %q: foreign key %q references table %q which does not exist yet; tables so far: %v",
					table, f.Name, f.Ref, r.TableNames())
			}
		} else if err := CheckDefault(f); err != nil {
			return fmt.Errorf("table %q: %w", table, err)
		}
	}
	return nil
}

// ApplyFields appends validated field specs to the table, stamping them with
// the given revision. Callers must run CheckFields first.
func (r *Registry) ApplyFields(table string, fields []FieldSpec, revision int) {
	t := r.tables[table]
	for _, f := range fields {
		f.Revision = revision
		t.Fields = append(t.Fields, f)
	}
}

// ReferencedBy returns (table, field) pairs of every foreign key that points
// at the given table.
func (r *Registry) ReferencedBy(target string) [][2]string {
	var refs [][2]string
	for _, name := range r.order {
		for field, ref := range r.tables[name].ForeignKeys() {
			if ref == target {
				refs = append(refs, [2]string{name, field})
			}
		}
	}
	return refs
}

// RemoveTable drops a table from the registry. Fails if another table still
// holds a foreign key to it.
func (r *Registry) RemoveTable(name string) error {
	if _, ok := r.tables[name]; !ok {
		return fmt.Errorf("unknown table %q", name)
	}
	if refs := r.ReferencedBy(name); len(refs) > 0 {
		return fmt.Errorf("table %q is referenced by foreign key %s.%s", name, refs[0][0], refs[0][1])
	}
	delete(r.tables, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveField drops a field from a table. Reserved fields and fields of
// foreign-key type that some table still references cannot be removed.
func (r *Registry) RemoveField(table, field string) error {
	t, ok := r.tables[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if field == IDField || field == DateTimeField {
		return fmt.Errorf("field %q cannot be removed", field)
	}
	for i, f := range t.Fields {
		if f.Name == field {
			t.Fields = append(t.Fields[:i], t.Fields[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("unknown field %q in table %q", field, table)
}

// RenameTable renames a table and rewrites every foreign key that targets
// it. Fails if the new name is taken.
func (r *Registry) RenameTable(name, newName string) error {
	t, ok := r.tables[name]
	if !ok {
		return fmt.Errorf("unknown table %q", name)
	}
	if _, ok := r.tables[newName]; ok {
		return fmt.Errorf("table %q already exists", newName)
	}
	delete(r.tables, name)
	t.Name = newName
	r.tables[newName] = t
	for i, n := range r.order {
		if n == name {
			r.order[i] = newName
		}
	}
	for _, other := range r.tables {
		for i, f := range other.Fields {
			if f.Type == FieldFK && f.Ref == name {
				other.Fields[i].Ref = newName
			}
		}
	}
	return nil
}

// RenameField renames a field in place. Reserved fields cannot be renamed.
func (r *Registry) RenameField(table, field, newField string) error {
	t, ok := r.tables[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if field == IDField || field == DateTimeField {
		return fmt.Errorf("field %q cannot be renamed", field)
	}
	if _, ok := t.Field(newField); ok {
		return fmt.Errorf("table %q: field %q already exists", table, newField)
	}
	for i, f := range t.Fields {
		if f.Name == field {
			t.Fields[i].Name = newField
			return nil
		}
	}
	return fmt.Errorf("unknown field %q in table %q", field, table)
}
