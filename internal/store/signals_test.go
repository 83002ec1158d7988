package store

import (
	"context"
	"errors"
	"testing"

	"github.com/simrec/simrec/internal/schema"
)

func TestSignals_FireInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	d.CreateTable(ctx, "Status", schema.KindStoring,
		schema.FieldSpec{Name: "state", Type: schema.FieldText})

	var order []string
	record := func(tag string) Handler {
		return func(table string, values map[string]any) error {
			order = append(order, tag)
			return nil
		}
	}
	d.RegisterPreInsert("Status", record("pre-1"), "first")
	d.RegisterPreInsert("Status", record("pre-2"), "second")
	d.RegisterPostInsert("Status", record("post-1"), "third")
	d.RegisterPostInsert("Status", record("post-2"), "fourth")

	if warnings := d.ConnectSignals(); len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	if _, err := d.AddData(ctx, "Status", map[string]any{"state": "ok"}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}

	want := []string{"pre-1", "pre-2", "post-1", "post-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestSignals_PostSeesGeneratedID(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	d.CreateTable(ctx, "Status", schema.KindStoring,
		schema.FieldSpec{Name: "state", Type: schema.FieldText})

	var preID, postID any
	d.RegisterPreInsert("Status", func(table string, values map[string]any) error {
		preID = values[schema.IDField]
		return nil
	}, "")
	d.RegisterPostInsert("Status", func(table string, values map[string]any) error {
		postID = values[schema.IDField]
		return nil
	}, "")
	d.ConnectSignals()

	if _, err := d.AddData(ctx, "Status", map[string]any{"state": "ok"}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	if preID != nil {
		t.Errorf("pre-insert saw an id: %v", preID)
	}
	if postID != int64(1) {
		t.Errorf("post-insert id = %v, want 1", postID)
	}
}

func TestSignals_RegisterAfterConnectFails(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	d.CreateTable(ctx, "Status", schema.KindStoring,
		schema.FieldSpec{Name: "state", Type: schema.FieldText})
	d.ConnectSignals()

	called := false
	err := d.RegisterPostInsert("Status", func(string, map[string]any) error {
		called = true
		return nil
	}, "late")
	if err == nil {
		t.Fatal("registration after connect should fail")
	}
	if _, err := d.AddData(ctx, "Status", map[string]any{"state": "ok"}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	if called {
		t.Error("rejected handler was invoked")
	}
}

func TestSignals_UncreatedTableWarnsAtConnect(t *testing.T) {
	d := newTestDB(t)
	d.RegisterPreInsert("Ghost", func(string, map[string]any) error { return nil }, "")

	warnings := d.ConnectSignals()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", warnings)
	}
}

func TestSignals_PreFailureWritesNoRow(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	d.CreateTable(ctx, "Status", schema.KindStoring,
		schema.FieldSpec{Name: "state", Type: schema.FieldText})

	boom := errors.New("boom")
	laterCalled := false
	d.RegisterPreInsert("Status", func(string, map[string]any) error { return boom }, "failing")
	d.RegisterPreInsert("Status", func(string, map[string]any) error {
		laterCalled = true
		return nil
	}, "after")
	d.ConnectSignals()

	_, err := d.AddData(ctx, "Status", map[string]any{"state": "ok"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if CodeOf(err) != ErrCodeHandler {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrCodeHandler)
	}
	if laterCalled {
		t.Error("chain was not aborted at the failing handler")
	}
	if n, _ := d.NumLines(ctx, "Status"); n != 0 {
		t.Errorf("pre-insert failure wrote %d rows", n)
	}
}

func TestSignals_PostFailureLeavesRowCommitted(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	d.CreateTable(ctx, "Status", schema.KindStoring,
		schema.FieldSpec{Name: "state", Type: schema.FieldText})

	boom := errors.New("boom")
	d.RegisterPostInsert("Status", func(string, map[string]any) error { return boom }, "failing")
	d.ConnectSignals()

	id, err := d.AddData(ctx, "Status", map[string]any{"state": "ok"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	// The row stays committed; the caller sees both the id and the error.
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if n, _ := d.NumLines(ctx, "Status"); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}
