// Package store implements the Database: a naming and table-management
// convenience layer over SQLite for step-synchronized simulation recording.
//
// A Database owns one SQLite file. Tables are declared dynamically, before
// or during a recording session, and every declaration is mirrored into a
// catalog (two shadow tables) so that Load can rebuild the full schema,
// including the revision at which each field appeared.
//
// The structurally interesting pieces are the row synchronizer (Session),
// which keeps every participating table at exactly one new row per logical
// step, and the signal dispatcher, which runs ordered pre/post-insert
// handlers and freezes its registration list at Connect.
//
// The package assumes a single cooperative writer per file and adds no
// locking beyond what SQLite provides.
package store
