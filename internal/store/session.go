package store

import (
	"context"

	"github.com/simrec/simrec/internal/schema"
)

// Session is the row synchronizer for one recording run. Tables registered
// as participants are held to exactly one new row per logical step: a Flush
// call marks the step boundary, inserting a default row into every
// participant that received no explicit write since the previous boundary.
//
// The invariant this buys is replay alignment: after N boundaries every
// participant has exactly N rows, so row id k addresses the same logical
// step in all of them.
type Session struct {
	db           *Database
	participants []string
	written      map[string]int
	steps        int
}

// StartSession begins step-synchronized recording over the given tables.
// Every table must already exist. Only one session can be active per
// database.
func (d *Database) StartSession(tables ...string) (*Session, error) {
	if d.session != nil {
		return nil, newError(ErrCodeSchema, "", "a recording session is already active")
	}
	s := &Session{db: d, written: make(map[string]int)}
	for _, table := range tables {
		table = schema.MakeName(table)
		if !d.reg.Has(table) {
			return nil, newError(ErrCodeLookup, table, "unknown table")
		}
		s.participants = append(s.participants, table)
		s.written[table] = 0
	}
	d.session = s
	return s, nil
}

// Participate adds a table to the running session. The table joins at the
// current boundary: it is backfilled with one default row per elapsed step
// so its row ids line up with the existing participants.
func (s *Session) Participate(ctx context.Context, table string) error {
	table = schema.MakeName(table)
	if !s.db.reg.Has(table) {
		return newError(ErrCodeLookup, table, "unknown table")
	}
	if _, ok := s.written[table]; ok {
		return nil
	}
	for i := 0; i < s.steps; i++ {
		if _, err := s.db.addDefaultRow(ctx, table); err != nil {
			return err
		}
	}
	s.participants = append(s.participants, table)
	s.written[table] = 0
	return nil
}

// rowAdded records an explicit write. Called by the write path.
func (s *Session) rowAdded(table string) {
	if _, ok := s.written[table]; ok {
		s.written[table]++
	}
}

// Steps returns the number of completed step boundaries.
func (s *Session) Steps() int {
	return s.steps
}

// Flush ends the current logical step. Participants that received no write
// get one default row; a participant that received more than one row since
// the last boundary breaks the one-row-per-step discipline and is reported
// as an error after the boundary completes for the others.
func (s *Session) Flush(ctx context.Context) error {
	var violated string
	var count int
	for _, table := range s.participants {
		switch n := s.written[table]; {
		case n == 0:
			if _, err := s.db.addDefaultRow(ctx, table); err != nil {
				return err
			}
		case n > 1 && violated == "":
			violated, count = table, n
		}
		s.written[table] = 0
	}
	s.steps++
	if violated != "" {
		return newError(ErrCodeShape, violated,
			"received %d rows in one step; collapse in-step writes into Update calls", count)
	}
	return nil
}

// Close ends the session. The database stays open.
func (s *Session) Close() {
	if s.db.session == s {
		s.db.session = nil
	}
}

// addDefaultRow inserts one row with every field at its declared default,
// bypassing the session dirty tracking.
func (d *Database) addDefaultRow(ctx context.Context, table string) (int64, error) {
	active := d.session
	d.session = nil
	defer func() { d.session = active }()
	return d.AddData(ctx, table, nil)
}
