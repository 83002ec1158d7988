package host

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simrec/simrec/internal/store"
)

// fakeComponent is a mutable bag of data fields, standing in for a host
// framework object.
type fakeComponent map[string]any

func (c fakeComponent) Value(dataField string) (any, error) {
	v, ok := c[dataField]
	if !ok {
		return nil, fmt.Errorf("no data field %q", dataField)
	}
	return v, nil
}

type fakeScene map[string]fakeComponent

func (s fakeScene) Resolve(path string) (Component, error) {
	c, ok := s[path]
	if !ok {
		return nil, fmt.Errorf("no component at %q", path)
	}
	return c, nil
}

func newRecorder(t *testing.T, scene Scene) (*store.Database, *Recorder) {
	t.Helper()
	d, err := store.New(t.TempDir(), "sim", false)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close(false) })
	return d, NewRecorder(d, scene, nil)
}

func TestAddCallback_CreatesTableAndField(t *testing.T) {
	ctx := context.Background()
	scene := fakeScene{
		"@dofs.mechanical": fakeComponent{"position": []float64{0, 0, 0}, "velocity": []float64{0, 0, 0}},
	}
	d, r := newRecorder(t, scene)

	require.NoError(t, r.AddCallback(ctx, "state", "position", "@dofs.mechanical", "position"))
	require.NoError(t, r.AddCallback(ctx, "state", "velocity", "@dofs.mechanical", "velocity"))

	fields, err := d.Fields("State")
	require.NoError(t, err)
	require.Equal(t, []string{"position", "velocity"}, fields)
}

func TestAddCallback_Rejections(t *testing.T) {
	ctx := context.Background()
	scene := fakeScene{
		"@dofs.mechanical": fakeComponent{"position": []float64{0}},
	}
	_, r := newRecorder(t, scene)

	require.NoError(t, r.AddCallback(ctx, "state", "position", "@dofs.mechanical", "position"))

	err := r.AddCallback(ctx, "state", "position", "@dofs.mechanical", "position")
	require.ErrorContains(t, err, "already bound")

	err = r.AddCallback(ctx, "state", "other", "@missing.node", "position")
	require.ErrorContains(t, err, "resolve")

	err = r.AddCallback(ctx, "state", "other", "@dofs.mechanical", "spin")
	require.ErrorContains(t, err, "spin")
}

func TestRecorder_OneRowPerStep(t *testing.T) {
	ctx := context.Background()
	comp := fakeComponent{"position": []float64{0, 0}}
	scene := fakeScene{"@dofs.mechanical": comp}
	d, r := newRecorder(t, scene)
	require.NoError(t, r.AddCallback(ctx, "state", "position", "@dofs.mechanical", "position"))

	for i := 0; i < 3; i++ {
		r.OnStepBegin()
		comp["position"] = []float64{float64(i), 0}
		require.NoError(t, r.OnStepEnd(ctx))
	}

	n, err := d.NumLines(ctx, "State")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Equal(t, 3, r.Steps())

	line, err := d.GetLine(ctx, "State", 2, nil)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0}, line["position"])
}

func TestRecorder_MidStepWritesCollapse(t *testing.T) {
	ctx := context.Background()
	scene := fakeScene{}
	d, r := newRecorder(t, scene)
	require.NoError(t, d.CreateTable(ctx, "Events", "STORING"))

	r.OnStepBegin()
	require.NoError(t, r.AddData(ctx, "Events", map[string]any{"note": "first"}))
	require.NoError(t, r.AddData(ctx, "Events", map[string]any{"note": "second"}))
	require.NoError(t, r.OnStepEnd(ctx))

	n, err := d.NumLines(ctx, "Events")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	line, err := d.GetLine(ctx, "Events", 1, nil)
	require.NoError(t, err)
	require.Equal(t, "second", line["note"])
}

func TestRecorder_FillsUntouchedTables(t *testing.T) {
	ctx := context.Background()
	comp := fakeComponent{"position": []float64{0}}
	scene := fakeScene{"@dofs.mechanical": comp}
	d, r := newRecorder(t, scene)
	require.NoError(t, r.AddCallback(ctx, "state", "position", "@dofs.mechanical", "position"))
	require.NoError(t, d.CreateTable(ctx, "Idle", "STORING"))

	r.OnStepBegin()
	require.NoError(t, r.OnStepEnd(ctx))

	n, err := d.NumLines(ctx, "Idle")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRecorder_DescribeAnnotatesBindings(t *testing.T) {
	ctx := context.Background()
	scene := fakeScene{
		"@dofs.mechanical": fakeComponent{"position": []float64{0}},
	}
	_, r := newRecorder(t, scene)
	require.NoError(t, r.AddCallback(ctx, "state", "position", "@dofs.mechanical", "position"))

	out := r.Describe()
	require.Contains(t, out, `"State"`)
	require.Contains(t, out, "State.position <- @dofs.mechanical.position")
}
