package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/simrec/simrec/internal/schema"
)

// newTestDB creates a fresh database file in a temp dir.
func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(t.TempDir(), "record", false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { d.Close(false) })
	return d
}

func TestNew_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, "record", false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Close(false)

	if _, err := os.Stat(filepath.Join(dir, "record.db")); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
}

func TestNew_TrimsExtension(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, "record.db", false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Close(false)

	_, name := d.Path()
	if name != "record" {
		t.Errorf("name = %q, want %q", name, "record")
	}
}

func TestNew_IndexesExistingFile(t *testing.T) {
	dir := t.TempDir()
	d1, err := New(dir, "record", false)
	if err != nil {
		t.Fatalf("first New() failed: %v", err)
	}
	d1.Close(false)

	d2, err := New(dir, "record", false)
	if err != nil {
		t.Fatalf("second New() failed: %v", err)
	}
	defer d2.Close(false)

	if _, name := d2.Path(); name != "record(1)" {
		t.Errorf("name = %q, want %q", name, "record(1)")
	}
	if _, err := os.Stat(filepath.Join(dir, "record(1).db")); err != nil {
		t.Errorf("indexed file missing: %v", err)
	}
}

func TestNew_OverwriteRemovesExisting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d1, err := New(dir, "record", false)
	if err != nil {
		t.Fatalf("first New() failed: %v", err)
	}
	if err := d1.CreateTable(ctx, "Camera", schema.KindStoring); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	d1.Close(false)

	d2, err := New(dir, "record", true)
	if err != nil {
		t.Fatalf("overwrite New() failed: %v", err)
	}
	defer d2.Close(false)

	if len(d2.Tables()) != 0 {
		t.Errorf("overwritten database still has tables: %v", d2.Tables())
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(t.TempDir(), "nope")
	if err == nil {
		t.Fatal("Load() of missing file should fail")
	}
	if CodeOf(err) != ErrCodeLookup {
		t.Errorf("code = %q, want %q", CodeOf(err), ErrCodeLookup)
	}
}

func TestLoad_RebuildsCatalog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := New(dir, "record", false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.CreateTable(ctx, "Sensor", schema.KindStoring,
		schema.FieldSpec{Name: "gain", Type: schema.FieldFloat, Default: 1.5}); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := d.CreateTable(ctx, "Frame", schema.KindExchange,
		schema.FieldSpec{Name: "pixels", Type: schema.FieldArray},
		schema.FieldSpec{Name: "sensor", Type: schema.FieldFK, Ref: "Sensor"}); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := d.CreateFields(ctx, "Sensor", schema.FieldSpec{Name: "label", Type: schema.FieldText}); err != nil {
		t.Fatalf("CreateFields failed: %v", err)
	}
	if _, err := d.AddData(ctx, "Sensor", map[string]any{"gain": 2.0, "label": "front"}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	d.Close(false)

	loaded, err := Load(dir, "record")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	defer loaded.Close(false)

	tables := loaded.Tables()
	if len(tables) != 2 || tables[0] != "Sensor" || tables[1] != "Frame" {
		t.Fatalf("tables = %v", tables)
	}

	sensor, err := loaded.Table("Sensor")
	if err != nil {
		t.Fatalf("Table(Sensor) failed: %v", err)
	}
	gain, ok := sensor.Field("gain")
	if !ok {
		t.Fatal("gain field missing after Load")
	}
	if gain.Type != schema.FieldFloat || gain.Default != 1.5 {
		t.Errorf("gain = %+v", gain)
	}
	label, ok := sensor.Field("label")
	if !ok || label.Revision != 1 {
		t.Errorf("label revision = %+v, want revision 1", label)
	}

	frame, err := loaded.Table("Frame")
	if err != nil {
		t.Fatalf("Table(Frame) failed: %v", err)
	}
	if frame.Kind != schema.KindExchange {
		t.Errorf("Frame kind = %q", frame.Kind)
	}
	if frame.ForeignKeys()["sensor"] != "Sensor" {
		t.Errorf("Frame FKs = %v", frame.ForeignKeys())
	}
	if _, ok := frame.Field(schema.DateTimeField); !ok {
		t.Error("exchange table lost its _dt_ field after Load")
	}

	line, err := loaded.GetLine(ctx, "Sensor", 1, nil)
	if err != nil {
		t.Fatalf("GetLine failed: %v", err)
	}
	if line["label"] != "front" {
		t.Errorf("line = %v", line)
	}
}

func TestClose_EraseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, "scratch", false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Close(true); err != nil {
		t.Fatalf("Close(erase) failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch.db")); !os.IsNotExist(err) {
		t.Error("erase did not remove the file")
	}
}

func TestOperations_HonorCancelledContext(t *testing.T) {
	ctx := context.Background()
	d := newTestDB(t)
	if err := d.CreateTable(ctx, "Camera", schema.KindStoring,
		schema.FieldSpec{Name: "fps", Type: schema.FieldInt}); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if _, err := d.AddData(ctx, "Camera", map[string]any{"fps": 30}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.AddData(cancelled, "Camera", map[string]any{"fps": 60}); !errors.Is(err, context.Canceled) {
		t.Errorf("AddData with cancelled context: err = %v", err)
	}
	if _, err := d.GetLine(cancelled, "Camera", 1, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("GetLine with cancelled context: err = %v", err)
	}
	if err := d.CreateFields(cancelled, "Camera",
		schema.FieldSpec{Name: "gain", Type: schema.FieldFloat}); !errors.Is(err, context.Canceled) {
		t.Errorf("CreateFields with cancelled context: err = %v", err)
	}

	// The database stays usable once a live context comes back.
	if n, err := d.NumLines(ctx, "Camera"); err != nil || n != 1 {
		t.Errorf("NumLines after cancelled calls = %d, %v", n, err)
	}
}

func TestSessionID_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := New(dir, "record", false)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	id, err := d.SessionID(ctx)
	if err != nil || id == "" {
		t.Fatalf("SessionID failed: %q, %v", id, err)
	}
	d.Close(false)

	loaded, err := Load(dir, "record")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	defer loaded.Close(false)
	got, err := loaded.SessionID(ctx)
	if err != nil || got != id {
		t.Errorf("SessionID after Load = %q, want %q (err=%v)", got, id, err)
	}
}
