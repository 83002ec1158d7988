package render

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/simrec/simrec/internal/store"
)

var backingTable = regexp.MustCompile(`^(Mesh|Points|Arrows|Markers|Text)_(\d+)_(\d+)$`)

// Actor is one playable object discovered in a recorded database.
type Actor struct {
	Kind         Kind
	Table        string
	FactoryIndex int
	ObjectID     int
}

// Visualizer plays a recorded database back frame by frame. It discovers
// the factory backing tables by name, so actors from several factories
// coexist in one recording.
type Visualizer struct {
	db     *store.Database
	actors []Actor
	camera *Camera
	canvas *Canvas
	frames int64
	log    *zap.SugaredLogger
}

// NewVisualizer scans an open database for backing tables. Width and
// height are the canvas size in terminal cells.
func NewVisualizer(ctx context.Context, db *store.Database, width, height int, logger *zap.SugaredLogger) (*Visualizer, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	v := &Visualizer{
		db:     db,
		camera: NewCamera(),
		canvas: NewCanvas(width, height),
		log:    logger,
	}

	for _, name := range db.Tables() {
		m := backingTable.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		factory, _ := strconv.Atoi(m[2])
		object, _ := strconv.Atoi(m[3])
		v.actors = append(v.actors, Actor{
			Kind:         Kind(m[1]),
			Table:        name,
			FactoryIndex: factory,
			ObjectID:     object,
		})
	}
	if len(v.actors) == 0 {
		return nil, &store.StoreError{
			Code:    store.ErrCodeLookup,
			Message: "database holds no factory backing tables",
		}
	}
	sort.Slice(v.actors, func(i, j int) bool {
		a, b := v.actors[i], v.actors[j]
		if a.FactoryIndex != b.FactoryIndex {
			return a.FactoryIndex < b.FactoryIndex
		}
		return a.ObjectID < b.ObjectID
	})

	// Frame count is the shortest table; a crashed recording can leave the
	// last frame ragged.
	for i, a := range v.actors {
		n, err := db.NumLines(ctx, a.Table)
		if err != nil {
			return nil, err
		}
		if i == 0 || n < v.frames {
			v.frames = n
		}
	}
	logger.Infow("recording opened", "actors", len(v.actors), "frames", v.frames)
	return v, nil
}

// Actors returns the discovered objects in factory/object order.
func (v *Visualizer) Actors() []Actor {
	return v.actors
}

// Frames returns the playable frame count.
func (v *Visualizer) Frames() int64 {
	return v.frames
}

// Camera exposes the projection for interactive rotation and zoom.
func (v *Visualizer) Camera() *Camera {
	return v.camera
}

// Frame draws one recorded step, 1-based like row ids.
func (v *Visualizer) Frame(ctx context.Context, step int64) (string, error) {
	if step < 1 || step > v.frames {
		return "", &store.StoreError{
			Code:    store.ErrCodeLookup,
			Message: fmt.Sprintf("frame %d out of range (recording has %d)", step, v.frames),
		}
	}

	v.canvas.Clear()
	var overlays []string
	for _, a := range v.actors {
		line, err := v.db.GetLine(ctx, a.Table, step, nil)
		if err != nil {
			return "", err
		}
		if text := v.drawActor(ctx, a, line, step); text != "" {
			overlays = append(overlays, text)
		}
	}

	out := v.canvas.String()
	if len(overlays) > 0 {
		out += strings.Join(overlays, "\n") + "\n"
	}
	return out, nil
}

// drawActor paints one actor's frame row. Text actors return an overlay
// line instead of drawing.
func (v *Visualizer) drawActor(ctx context.Context, a Actor, line map[string]any, step int64) string {
	sw, sh := v.canvas.Width*2, v.canvas.Height*4

	switch a.Kind {
	case KindPoints:
		for _, p := range positions(line["positions"]) {
			if x, y, ok := v.camera.Project(p, sw, sh); ok {
				v.canvas.Set(x, y)
			}
		}

	case KindMesh:
		pts := positions(line["positions"])
		for _, cell := range cells(line["cells"]) {
			for i := range cell {
				from, to := cell[i], cell[(i+1)%len(cell)]
				if from >= len(pts) || to >= len(pts) {
					continue
				}
				x0, y0, ok0 := v.camera.Project(pts[from], sw, sh)
				x1, y1, ok1 := v.camera.Project(pts[to], sw, sh)
				if ok0 || ok1 {
					v.canvas.Line(x0, y0, x1, y1)
				}
			}
		}

	case KindArrows:
		pts := positions(line["positions"])
		vecs := positions(line["vectors"])
		for i, p := range pts {
			if i >= len(vecs) {
				break
			}
			x0, y0, ok0 := v.camera.Project(p, sw, sh)
			x1, y1, ok1 := v.camera.Project(p.Add(vecs[i]), sw, sh)
			if ok0 || ok1 {
				v.canvas.Line(x0, y0, x1, y1)
			}
		}

	case KindMarkers:
		target, _ := line["normal_to"].(string)
		if target == "" {
			return ""
		}
		host, err := v.db.GetLine(ctx, target, step, nil)
		if err != nil {
			v.log.Warnw("marker target missing", "table", a.Table, "target", target)
			return ""
		}
		pts := positions(host["positions"])
		for _, idx := range indices(line["indices"]) {
			if idx < 0 || idx >= len(pts) {
				continue
			}
			if x, y, ok := v.camera.Project(pts[idx], sw, sh); ok {
				// A marker is a 2x2 block so it stands out from points.
				v.canvas.Set(x, y)
				v.canvas.Set(x+1, y)
				v.canvas.Set(x, y+1)
				v.canvas.Set(x+1, y+1)
			}
		}

	case KindText:
		if content, ok := line["content"].(string); ok && content != "" {
			return content
		}
	}
	return ""
}

// positions converts a stored array cell into world vectors. Flat arrays
// are read as one vector, nested arrays as one vector per row.
func positions(v any) []Vec3 {
	switch arr := v.(type) {
	case []float64:
		return []Vec3{vec(arr)}
	case [][]float64:
		out := make([]Vec3, len(arr))
		for i, row := range arr {
			out[i] = vec(row)
		}
		return out
	}
	return nil
}

func vec(row []float64) Vec3 {
	var p Vec3
	if len(row) > 0 {
		p.X = row[0]
	}
	if len(row) > 1 {
		p.Y = row[1]
	}
	if len(row) > 2 {
		p.Z = row[2]
	}
	return p
}

// cells converts stored connectivity into index lists.
func cells(v any) [][]int {
	nested, ok := v.([][]float64)
	if !ok {
		return nil
	}
	out := make([][]int, len(nested))
	for i, row := range nested {
		out[i] = make([]int, len(row))
		for j, idx := range row {
			out[i][j] = int(idx)
		}
	}
	return out
}

func indices(v any) []int {
	flat, ok := v.([]float64)
	if !ok {
		return nil
	}
	out := make([]int, len(flat))
	for i, idx := range flat {
		out[i] = int(idx)
	}
	return out
}
