package cli

import (
	"context"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simrec/simrec/internal/schema"
	"github.com/simrec/simrec/internal/store"
)

// execute runs the CLI with the given arguments and captures stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// recordingFile writes a small recording and returns its path.
func recordingFile(t *testing.T, dir, name string) string {
	t.Helper()
	ctx := context.Background()
	d, err := store.New(dir, name, false)
	require.NoError(t, err)
	require.NoError(t, d.CreateTable(ctx, "Particle", schema.KindStoring,
		schema.FieldSpec{Name: "x", Type: schema.FieldFloat},
		schema.FieldSpec{Name: "label", Type: schema.FieldText}))
	for i := 0; i < 3; i++ {
		_, err := d.AddData(ctx, "Particle", map[string]any{"x": float64(i), "label": "p"})
		require.NoError(t, err)
	}
	require.NoError(t, d.Close(false))
	return filepath.Join(dir, name+".db")
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := execute(t, "", "--format", "xml", "inspect", "--db", "nowhere.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInspect_JSON(t *testing.T) {
	db := recordingFile(t, t.TempDir(), "run")

	out, err := execute(t, "", "--format", "json", "inspect", "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Tables, 1)
	assert.Equal(t, "Particle", resp.Data.Tables[0].Name)
	assert.Equal(t, []string{"x", "label"}, resp.Data.Tables[0].Fields)
	assert.EqualValues(t, 3, resp.Data.Tables[0].Rows)
	assert.NotEmpty(t, resp.Data.SessionID)
}

func TestInspect_MissingDatabase(t *testing.T) {
	_, err := execute(t, "", "inspect", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExport_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	db := recordingFile(t, dir, "run")
	base := filepath.Join(dir, "dump")

	out, err := execute(t, "", "export", "--db", db, "--out", base, "--as", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "dump_Particle.csv")

	data, err := os.ReadFile(base + "_Particle.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,x,label\n"))

	_, err = execute(t, "", "export", "--db", db, "--out", base, "--as", "parquet")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMerge_RefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := recordingFile(t, dir, "src")
	dest := recordingFile(t, dir, "all")

	// No --force and a "no" answer on stdin.
	_, err := execute(t, "n\n", "merge", "--out", dest, src)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	// An explicit yes proceeds.
	out, err := execute(t, "y\n", "merge", "--out", dest, src)
	require.NoError(t, err)
	assert.Contains(t, out, "merged 1 file(s)")
}

func TestMerge_Force(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := recordingFile(t, dir, "a")
	b := recordingFile(t, dir, "b")

	_, err := execute(t, "", "merge", "--out", filepath.Join(dir, "all.db"), "--force", a, b)
	require.NoError(t, err)

	d, err := store.Load(dir, "all")
	require.NoError(t, err)
	defer d.Close(false)
	n, err := d.NumLines(ctx, "Particle")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
}

func TestRename_Manifest(t *testing.T) {
	dir := t.TempDir()
	db := recordingFile(t, dir, "run")

	manifest := filepath.Join(dir, "renames.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(
		"tables:\n  Particle: Point\nfields:\n  Point:\n    x: pos\n"), 0o644))

	_, err := execute(t, "", "rename", "--db", db, "--manifest", manifest)
	require.NoError(t, err)

	d, err := store.Load(dir, "run")
	require.NoError(t, err)
	defer d.Close(false)
	fields, err := d.Fields("Point")
	require.NoError(t, err)
	assert.Equal(t, []string{"pos", "label"}, fields)
}

func TestRemove_Manifest(t *testing.T) {
	dir := t.TempDir()
	db := recordingFile(t, dir, "run")

	manifest := filepath.Join(dir, "removals.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(
		"fields:\n  Particle: [label]\n"), 0o644))

	_, err := execute(t, "", "remove", "--db", db, "--manifest", manifest)
	require.NoError(t, err)

	d, err := store.Load(dir, "run")
	require.NoError(t, err)
	defer d.Close(false)
	fields, err := d.Fields("Particle")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, fields)
}

func TestRemove_BadManifestPath(t *testing.T) {
	db := recordingFile(t, t.TempDir(), "run")
	_, err := execute(t, "", "remove", "--db", db, "--manifest", "missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
