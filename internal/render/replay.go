package render

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/simrec/simrec/internal/store"
)

var (
	replayCanvasStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	replayHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	replayGraphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	replayHelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
	replayErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type frameTickMsg time.Time

// Replay is an interactive bubbletea program stepping through a recording.
// Left/right steps frames, space plays, arrows and +/- drive the camera.
type Replay struct {
	// ctx carries the program's lifetime into the per-frame reads; the tea
	// update loop has no parameter slot for it.
	ctx context.Context
	viz *Visualizer

	scalar      []float64
	scalarLabel string

	frame   int64
	playing bool
	err     error
}

// NewReplay wraps a visualizer. The scalar series, if any, is plotted
// under the canvas up to the current frame.
func NewReplay(ctx context.Context, viz *Visualizer, scalar []float64, scalarLabel string) *Replay {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Replay{ctx: ctx, viz: viz, scalar: scalar, scalarLabel: scalarLabel, frame: 1}
}

// ScalarSeries reads one numeric field across a whole table for plotting.
func ScalarSeries(ctx context.Context, db *store.Database, table, field string) ([]float64, error) {
	lines, err := db.GetLinesRange(ctx, table, 0, 0, &store.LineQuery{Fields: []string{field}})
	if err != nil {
		return nil, err
	}
	series := make([]float64, 0, len(lines))
	for _, line := range lines {
		switch v := line[field].(type) {
		case float64:
			series = append(series, v)
		case int64:
			series = append(series, float64(v))
		case nil:
			series = append(series, 0)
		default:
			return nil, fmt.Errorf("field %s of %s is not numeric (%T)", field, table, v)
		}
	}
	return series, nil
}

func (r *Replay) Init() tea.Cmd {
	return nil
}

func frameTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return frameTickMsg(t)
	})
}

func (r *Replay) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		case "right", "l":
			r.advance(1)
		case "left", "h":
			r.advance(-1)
		case "g":
			r.frame = 1
		case "G":
			r.frame = r.viz.Frames()
		case " ":
			r.playing = !r.playing
			if r.playing {
				return r, frameTick()
			}
		case "up", "k":
			r.viz.Camera().RotateX(0.1)
		case "down", "j":
			r.viz.Camera().RotateX(-0.1)
		case "a":
			r.viz.Camera().RotateY(0.1)
		case "d":
			r.viz.Camera().RotateY(-0.1)
		case "+", "=":
			r.viz.Camera().ZoomIn()
		case "-":
			r.viz.Camera().ZoomOut()
		}

	case frameTickMsg:
		if !r.playing {
			return r, nil
		}
		if r.frame >= r.viz.Frames() {
			r.playing = false
			return r, nil
		}
		r.advance(1)
		return r, frameTick()
	}
	return r, nil
}

func (r *Replay) advance(delta int64) {
	r.frame += delta
	if r.frame < 1 {
		r.frame = 1
	}
	if max := r.viz.Frames(); r.frame > max {
		r.frame = max
	}
}

// Frame returns the current 1-based frame number.
func (r *Replay) Frame() int64 {
	return r.frame
}

func (r *Replay) View() string {
	frame, err := r.viz.Frame(r.ctx, r.frame)
	if err != nil {
		r.err = err
	}
	if r.err != nil {
		return replayErrorStyle.Render(r.err.Error()) + "\n"
	}

	header := replayHeaderStyle.Render(
		fmt.Sprintf("frame %d/%d  actors %d", r.frame, r.viz.Frames(), len(r.viz.Actors())))
	out := header + "\n" + replayCanvasStyle.Render(frame)

	if len(r.scalar) > 0 {
		upto := int(r.frame)
		if upto > len(r.scalar) {
			upto = len(r.scalar)
		}
		chart := asciigraph.Plot(r.scalar[:upto],
			asciigraph.Height(5), asciigraph.Width(40), asciigraph.Caption(r.scalarLabel))
		out += "\n" + replayGraphStyle.Render(chart)
	}

	out += "\n" + replayHelpStyle.Render("←/→ step · space play · ↑/↓/a/d rotate · +/- zoom · q quit")
	return out
}

// Run starts the replay UI and blocks until it exits.
func (r *Replay) Run() error {
	_, err := tea.NewProgram(r, tea.WithAltScreen(), tea.WithContext(r.ctx)).Run()
	return err
}
