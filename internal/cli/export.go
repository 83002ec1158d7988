package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/simrec/simrec/internal/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Out      string
	As       string
}

// ExportResult holds the paths written by an export run.
type ExportResult struct {
	Artifacts []string `json:"artifacts"`
}

func (r ExportResult) String() string {
	return strings.Join(r.Artifacts, "\n")
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [tables...]",
		Short: "Export tables to CSV or JSON, one artifact per table",
		Long: `Export table contents to flat files named <out>_<Table>.<ext>.
Without table arguments every table is exported.

Examples:
  simrec export --db ./run.db --out ./run --as csv
  simrec export --db ./run.db --out ./run --as json Particle Force`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output path base (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringVar(&opts.As, "as", "csv", "artifact format (csv|json)")

	return cmd
}

func runExport(opts *ExportOptions, tables []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	format, err := export.ParseFormat(opts.As)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid artifact format", err)
	}

	d, err := openDatabase(opts.Database)
	if err != nil {
		return err
	}
	defer d.Close(false)

	written, err := export.Write(cmd.Context(), d, opts.Out, format, tables...)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "export failed", err)
	}

	formatter.VerboseLog("Wrote %d artifact(s)", len(written))
	return formatter.Success(ExportResult{Artifacts: written})
}
