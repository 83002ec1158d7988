// Package render turns recorded tables into visual objects: a Factory
// that snapshots object attributes into backing tables step by step, and
// a terminal visualizer that plays the recording back.
package render

import (
	"fmt"

	"github.com/simrec/simrec/internal/schema"
)

// Kind names a visual object kind.
type Kind string

const (
	KindMesh    Kind = "Mesh"
	KindPoints  Kind = "Points"
	KindArrows  Kind = "Arrows"
	KindMarkers Kind = "Markers"
	KindText    Kind = "Text"
)

// Attr declares one attribute of an object kind. Required attributes must
// be present at creation; locked attributes are fixed once created.
type Attr struct {
	Name     string
	Type     schema.FieldType
	Required bool
	Locked   bool
}

// attrTables lists the attributes of every kind, in backing-field order.
var attrTables = map[Kind][]Attr{
	KindMesh: {
		{Name: "positions", Type: schema.FieldArray, Required: true},
		{Name: "cells", Type: schema.FieldArray, Required: true, Locked: true},
		{Name: "color", Type: schema.FieldText},
		{Name: "alpha", Type: schema.FieldFloat},
		{Name: "scalar_field", Type: schema.FieldArray},
		{Name: "colormap", Type: schema.FieldText, Locked: true},
		{Name: "wireframe", Type: schema.FieldBool},
		{Name: "line_width", Type: schema.FieldFloat},
	},
	KindPoints: {
		{Name: "positions", Type: schema.FieldArray, Required: true},
		{Name: "color", Type: schema.FieldText},
		{Name: "alpha", Type: schema.FieldFloat},
		{Name: "point_size", Type: schema.FieldFloat},
		{Name: "scalar_field", Type: schema.FieldArray},
		{Name: "colormap", Type: schema.FieldText, Locked: true},
	},
	KindArrows: {
		{Name: "positions", Type: schema.FieldArray, Required: true},
		{Name: "vectors", Type: schema.FieldArray, Required: true},
		{Name: "color", Type: schema.FieldText},
		{Name: "alpha", Type: schema.FieldFloat},
		{Name: "res", Type: schema.FieldInt, Locked: true},
	},
	KindMarkers: {
		{Name: "normal_to", Type: schema.FieldText, Required: true, Locked: true},
		{Name: "indices", Type: schema.FieldArray, Required: true},
		{Name: "symbol", Type: schema.FieldText, Locked: true},
		{Name: "size", Type: schema.FieldFloat},
		{Name: "color", Type: schema.FieldText},
		{Name: "alpha", Type: schema.FieldFloat},
	},
	KindText: {
		{Name: "content", Type: schema.FieldText, Required: true},
		{Name: "position", Type: schema.FieldArray},
		{Name: "size", Type: schema.FieldInt, Locked: true},
		{Name: "color", Type: schema.FieldText},
		{Name: "bold", Type: schema.FieldBool, Locked: true},
	},
}

// Attrs returns the declared attribute table of a kind.
func Attrs(kind Kind) []Attr {
	return attrTables[kind]
}

func attrOf(kind Kind, name string) (Attr, bool) {
	for _, a := range attrTables[kind] {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}

// fieldSpecs converts a kind's attribute table into backing-table fields.
func fieldSpecs(kind Kind) []schema.FieldSpec {
	attrs := attrTables[kind]
	specs := make([]schema.FieldSpec, len(attrs))
	for i, a := range attrs {
		specs[i] = schema.FieldSpec{Name: a.Name, Type: a.Type}
	}
	return specs
}

// checkCreate validates an attribute bundle for object creation.
func checkCreate(kind Kind, values map[string]any) error {
	for name := range values {
		if _, ok := attrOf(kind, name); !ok {
			return fmt.Errorf("%s has no attribute %q", kind, name)
		}
	}
	for _, a := range attrTables[kind] {
		if _, ok := values[a.Name]; a.Required && !ok {
			return fmt.Errorf("%s requires attribute %q at creation", kind, a.Name)
		}
	}
	return nil
}

// checkUpdate validates an attribute bundle for an update.
func checkUpdate(kind Kind, values map[string]any) error {
	for name := range values {
		a, ok := attrOf(kind, name)
		if !ok {
			return fmt.Errorf("%s has no attribute %q", kind, name)
		}
		if a.Locked {
			return fmt.Errorf("%s attribute %q is fixed at creation", kind, name)
		}
	}
	return nil
}
