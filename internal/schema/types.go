package schema

import (
	"fmt"
	"time"
)

// FieldType identifies the semantic type of a field.
// FieldFK is special: the referenced table name lives in FieldSpec.Ref.
type FieldType string

const (
	FieldInt      FieldType = "INTEGER"
	FieldFloat    FieldType = "FLOAT"
	FieldText     FieldType = "TEXT"
	FieldBool     FieldType = "BOOLEAN"
	// FieldArray cells are stored as JSON text. Numeric arrays read back as
	// []float64 (or [][]float64) regardless of the element type they were
	// written with; JSON does not keep the int/float distinction.
	FieldArray    FieldType = "ARRAY"
	FieldDateTime FieldType = "DATETIME"
	FieldFK       FieldType = "FK"
)

// TableKind distinguishes append-heavy storing tables from low-volume
// exchange tables, which only ever hold their most recent row.
type TableKind string

const (
	KindStoring  TableKind = "STORING"
	KindExchange TableKind = "EXCHANGE"
)

// Reserved column names managed by the storage layer. They cannot be
// declared, renamed or removed by callers.
const (
	IDField       = "id"
	DateTimeField = "_dt_"
)

// FieldSpec declares one column: name, semantic type, optional default and
// the schema revision at which the column was added.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Ref      string // referenced table name, set only when Type == FieldFK
	Default  any    // nil means unset cells are NULL
	Revision int
}

// TableSpec declares one table: its kind and its fields in declaration
// order. The implicit auto-increment id column is not listed.
type TableSpec struct {
	Name   string
	Kind   TableKind
	Fields []FieldSpec
}

// Field returns the spec of the named field, or false if it is not declared.
func (t *TableSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// FieldNames returns the declared field names in order.
func (t *TableSpec) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKeys returns field name -> referenced table name for every FK field.
func (t *TableSpec) ForeignKeys() map[string]string {
	fk := make(map[string]string)
	for _, f := range t.Fields {
		if f.Type == FieldFK {
			fk[f.Name] = f.Ref
		}
	}
	return fk
}

// SQLType maps a semantic type to the SQLite column type used to store it.
// Arrays are stored as JSON text, timestamps as RFC 3339 text.
func (ft FieldType) SQLType() string {
	switch ft {
	case FieldInt, FieldBool, FieldFK:
		return "INTEGER"
	case FieldFloat:
		return "REAL"
	case FieldText, FieldDateTime:
		return "TEXT"
	case FieldArray:
		return "BLOB"
	default:
		return "BLOB"
	}
}

// TypeOf infers the field type used when a table or field is created on the
// fly from a value. Returns false for values no field type can hold.
func TypeOf(v any) (FieldType, bool) {
	switch v.(type) {
	case int, int32, int64:
		return FieldInt, true
	case float32, float64:
		return FieldFloat, true
	case string:
		return FieldText, true
	case bool:
		return FieldBool, true
	case time.Time:
		return FieldDateTime, true
	case []float64, []int, []string, [][]float64, [][]int:
		return FieldArray, true
	default:
		return "", false
	}
}

// CheckDefault verifies that a declared default value is representable by
// the field's type. FK fields cannot carry defaults.
func CheckDefault(f FieldSpec) error {
	if f.Default == nil {
		return nil
	}
	if f.Type == FieldFK {
		return fmt.Errorf("field %q: foreign keys cannot have a default value", f.Name)
	}
	got, ok := TypeOf(f.Default)
	if !ok || got != f.Type {
		return fmt.Errorf("field %q: default value %v does not match type %s", f.Name, f.Default, f.Type)
	}
	return nil
}
