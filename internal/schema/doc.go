// Package schema defines the table and field model shared by the storage
// layer and the utilities that operate on closed database files.
//
// A TableSpec is the declared shape of one table: an ordered list of
// FieldSpecs plus a kind (storing or exchange). FieldSpecs carry a revision
// number so that shapes of rows written before a dynamic schema extension
// can be reconstructed when a file is reloaded.
//
// The package is purely descriptive: it validates declarations and renders
// them, but never touches SQLite. Execution lives in internal/store.
package schema
