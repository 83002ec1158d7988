package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/simrec/simrec/internal/schema"
	"github.com/simrec/simrec/internal/store"
)

func fixtureDB(t *testing.T) *store.Database {
	t.Helper()
	ctx := context.Background()
	d, err := store.New(t.TempDir(), "export", false)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close(false) })

	require.NoError(t, d.CreateTable(ctx, "Particle", schema.KindStoring,
		schema.FieldSpec{Name: "x", Type: schema.FieldFloat},
		schema.FieldSpec{Name: "label", Type: schema.FieldText}))

	for i, label := range []string{"a", "b", "c"} {
		_, err := d.AddData(ctx, "Particle", map[string]any{
			"x":     float64(i) * 0.5,
			"label": label,
		})
		require.NoError(t, err)
	}
	return d
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWrite_CSV(t *testing.T) {
	ctx := context.Background()
	d := fixtureDB(t)
	dir := t.TempDir()

	written, err := Write(ctx, d, filepath.Join(dir, "run.db"), FormatCSV)
	require.NoError(t, err)
	require.Len(t, written, 1)
	require.Equal(t, filepath.Join(dir, "run_Particle.csv"), written[0])

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	golden(t).Assert(t, "particle_csv", data)
}

func TestWrite_JSON(t *testing.T) {
	ctx := context.Background()
	d := fixtureDB(t)
	dir := t.TempDir()

	written, err := Write(ctx, d, filepath.Join(dir, "run"), FormatJSON, "Particle")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "run_Particle.json"), written[0])

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	golden(t).Assert(t, "particle_json", data)
}

func TestWrite_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := fixtureDB(t)
	require.NoError(t, d.CreateTable(ctx, "Body", schema.KindStoring,
		schema.FieldSpec{Name: "particle", Type: schema.FieldFK, Ref: "Particle"}))
	_, err := d.AddData(ctx, "Body", map[string]any{"particle": int64(2)})
	require.NoError(t, err)

	dir := t.TempDir()
	written, err := Write(ctx, d, filepath.Join(dir, "run"), FormatJSON, "Body")
	require.NoError(t, err)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)

	var dump struct {
		Table  string `json:"table"`
		Kind   string `json:"kind"`
		Fields []struct {
			Name string `json:"name"`
			Type string `json:"type"`
			Ref  string `json:"ref"`
		} `json:"fields"`
		Lines []map[string]any `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(data, &dump))
	require.Equal(t, "Body", dump.Table)
	require.Equal(t, "STORING", dump.Kind)
	require.Len(t, dump.Fields, 1)
	require.Equal(t, "Particle", dump.Fields[0].Ref)
	require.Len(t, dump.Lines, 1)
	require.EqualValues(t, 2, dump.Lines[0]["particle"])
}

func TestWrite_AllTables(t *testing.T) {
	ctx := context.Background()
	d := fixtureDB(t)
	require.NoError(t, d.CreateTable(ctx, "Status", schema.KindExchange,
		schema.FieldSpec{Name: "state", Type: schema.FieldText}))

	dir := t.TempDir()
	written, err := Write(ctx, d, filepath.Join(dir, "run"), FormatCSV)
	require.NoError(t, err)
	require.Len(t, written, 2)
}

func TestWrite_UnknownTable(t *testing.T) {
	ctx := context.Background()
	d := fixtureDB(t)
	_, err := Write(ctx, d, filepath.Join(t.TempDir(), "run"), FormatCSV, "Missing")
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"csv", "json"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		require.Equal(t, Format(s), f)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestFormatCell(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{int64(7), "7"},
		{3.25, "3.25"},
		{true, "true"},
		{[]float64{1, 2.5}, "[1,2.5]"},
		{[][]float64{{0, 1}}, "[[0,1]]"},
	}
	for _, c := range cases {
		got, err := formatCell(c.in)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "input %v", c.in)
	}
}

func TestWrite_EmptyTableStillProducesArtifact(t *testing.T) {
	ctx := context.Background()
	d := fixtureDB(t)
	require.NoError(t, d.CreateTable(ctx, "Empty", schema.KindStoring,
		schema.FieldSpec{Name: "v", Type: schema.FieldInt}))

	dir := t.TempDir()
	written, err := Write(ctx, d, filepath.Join(dir, "run"), FormatCSV, "Empty")
	require.NoError(t, err)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	require.Equal(t, "id,v\n", string(data))
	require.True(t, strings.HasSuffix(written[0], "run_Empty.csv"))
}
