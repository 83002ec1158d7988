package store

import (
	"fmt"

	"github.com/simrec/simrec/internal/schema"
)

// SignalKind selects when a handler fires relative to the row commit.
type SignalKind string

const (
	PreInsert  SignalKind = "pre_insert"
	PostInsert SignalKind = "post_insert"
)

// Handler receives the table name and the row values. Pre-insert handlers
// see the pending values; post-insert handlers see the committed values,
// generated id included. A non-nil error aborts the remaining chain and
// propagates to the caller of AddData.
type Handler func(table string, values map[string]any) error

type registration struct {
	kind    SignalKind
	table   string
	handler Handler
	name    string
}

// Dispatcher keeps ordered pre/post-insert handler lists per table. It goes
// through three states: handlers are registered while unconnected, Connect
// freezes the lists for the session, and registration afterwards fails fast.
type Dispatcher struct {
	pending   []registration
	connected bool
	pre       map[string][]registration
	post      map[string][]registration
}

// NewDispatcher returns a dispatcher in the registering state.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pre:  make(map[string][]registration),
		post: make(map[string][]registration),
	}
}

// Register appends a handler for the (table, kind) pair, preserving
// registration order. Fails once the dispatcher is connected.
func (s *Dispatcher) Register(kind SignalKind, table string, handler Handler, name string) error {
	if s.connected {
		return newError(ErrCodeSchema, table, "cannot register %s handler: dispatcher already connected", kind)
	}
	if handler == nil {
		return newError(ErrCodeSchema, table, "nil %s handler", kind)
	}
	s.pending = append(s.pending, registration{kind: kind, table: table, handler: handler, name: name})
	return nil
}

// Connect freezes the handler lists. Handlers registered against tables
// missing from the given set are dropped and reported as warnings rather
// than errors, matching the forgiving registration order of recording
// scripts that declare handlers before tables.
func (s *Dispatcher) Connect(tables map[string]bool) []string {
	var warnings []string
	for _, reg := range s.pending {
		if !tables[reg.table] {
			warnings = append(warnings,
				fmt.Sprintf("signal %q not connected: table %q was never created", reg.kind, reg.table))
			continue
		}
		if reg.kind == PreInsert {
			s.pre[reg.table] = append(s.pre[reg.table], reg)
		} else {
			s.post[reg.table] = append(s.post[reg.table], reg)
		}
	}
	s.pending = nil
	s.connected = true
	return warnings
}

// Connected reports whether the handler lists are frozen.
func (s *Dispatcher) Connected() bool {
	return s.connected
}

// firePre runs the pre-insert chain in registration order. The first error
// aborts the chain; the pending row must not be written.
func (s *Dispatcher) firePre(table string, values map[string]any) error {
	if !s.connected {
		return nil
	}
	for _, reg := range s.pre[table] {
		if err := reg.handler(table, values); err != nil {
			return wrapError(ErrCodeHandler, table, fmt.Sprintf("pre-insert handler %q", reg.name), err)
		}
	}
	return nil
}

// firePost runs the post-insert chain in registration order. The first
// error aborts the chain and propagates with the row left committed.
func (s *Dispatcher) firePost(table string, values map[string]any) error {
	if !s.connected {
		return nil
	}
	for _, reg := range s.post[table] {
		if err := reg.handler(table, values); err != nil {
			return wrapError(ErrCodeHandler, table, fmt.Sprintf("post-insert handler %q", reg.name), err)
		}
	}
	return nil
}

// RegisterPreInsert registers a handler fired before each row insertion
// into the table.
func (d *Database) RegisterPreInsert(table string, handler Handler, name string) error {
	return d.dispatcher.Register(PreInsert, schema.MakeName(table), handler, name)
}

// RegisterPostInsert registers a handler fired after each row insertion
// into the table.
func (d *Database) RegisterPostInsert(table string, handler Handler, name string) error {
	return d.dispatcher.Register(PostInsert, schema.MakeName(table), handler, name)
}

// ConnectSignals freezes the registered handlers for this session. Returned
// warnings name handlers whose table was never created.
func (d *Database) ConnectSignals() []string {
	tables := make(map[string]bool)
	for _, name := range d.reg.TableNames() {
		tables[name] = true
	}
	return d.dispatcher.Connect(tables)
}
