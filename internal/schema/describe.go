package schema

import (
	"fmt"
	"strings"
)

// Describe renders a table spec the way `inspect` prints it:
//
//	* StoringTable "Camera"
//	  - id (INTEGER) (default)
//	  - frame (ARRAY)
//	  - sensor (FK -> Sensor)
func (t *TableSpec) Describe(indent bool) string {
	pad := ""
	if indent {
		pad = "  "
	}
	role := "Storing"
	if t.Kind == KindExchange {
		role = "Exchange"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s* %sTable %q\n", pad, role, t.Name)
	fmt.Fprintf(&b, "%s  - %s (INTEGER) (default)\n", pad, IDField)
	for _, f := range t.Fields {
		switch {
		case f.Type == FieldFK:
			fmt.Fprintf(&b, "%s  - %s (FK -> %s)\n", pad, f.Name, f.Ref)
		case f.Name == DateTimeField:
			fmt.Fprintf(&b, "%s  - %s (%s) (default)\n", pad, f.Name, f.Type)
		default:
			fmt.Fprintf(&b, "%s  - %s (%s)\n", pad, f.Name, f.Type)
		}
	}
	return b.String()
}

// DescribeAll renders every table of a registry in creation order.
func (r *Registry) DescribeAll(databaseName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DATABASE %s.db\n", databaseName)
	for _, t := range r.Tables() {
		b.WriteString(t.Describe(true))
	}
	return b.String()
}
