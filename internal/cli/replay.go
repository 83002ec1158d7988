package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simrec/simrec/internal/render"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Plot     string // "Table.field" scalar series to chart
	Width    int
	Height   int
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play a recording back in the terminal",
		Long: `Play a recording back frame by frame. The recording must contain
factory backing tables. With --plot a scalar field is charted under the
canvas as the playhead moves.

Examples:
  simrec replay --db ./run.db
  simrec replay --db ./run.db --plot Observables.energy`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Plot, "plot", "", "scalar series to chart, as Table.field")
	cmd.Flags().IntVar(&opts.Width, "width", 80, "canvas width in cells")
	cmd.Flags().IntVar(&opts.Height, "height", 24, "canvas height in cells")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	d, err := openDatabase(opts.Database)
	if err != nil {
		return err
	}
	defer d.Close(false)

	logger := zap.NewNop().Sugar()
	if opts.Verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l.Sugar()
		}
	}

	viz, err := render.NewVisualizer(cmd.Context(), d, opts.Width, opts.Height, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "open recording for playback", err)
	}

	var scalar []float64
	var label string
	if opts.Plot != "" {
		table, field, ok := strings.Cut(opts.Plot, ".")
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --plot %q, want Table.field", opts.Plot))
		}
		scalar, err = render.ScalarSeries(cmd.Context(), d, table, field)
		if err != nil {
			return WrapExitError(ExitCommandError, "load scalar series", err)
		}
		label = opts.Plot
	}

	return render.NewReplay(cmd.Context(), viz, scalar, label).Run()
}
