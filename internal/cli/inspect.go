package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Table    string // optional - restrict to one table
}

// TableInfo describes one table of a recording.
type TableInfo struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields"`
	Rows   int64    `json:"rows"`
}

// InspectResult holds the inspect output.
type InspectResult struct {
	Database  string      `json:"database"`
	SessionID string      `json:"session_id,omitempty"`
	Tables    []TableInfo `json:"tables"`
}

func (r InspectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", r.Database)
	if r.SessionID != "" {
		fmt.Fprintf(&b, "Session:  %s\n", r.SessionID)
	}
	for _, t := range r.Tables {
		fmt.Fprintf(&b, "* %s %q: %d rows\n", t.Kind, t.Name, t.Rows)
		for _, f := range t.Fields {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the tables, fields and row counts of a recording",
		Long: `Show the schema and row counts of a recording file.

Examples:
  simrec inspect --db ./run.db
  simrec inspect --db ./run.db --table Particle --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Table, "table", "", "inspect a single table")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	d, err := openDatabase(opts.Database)
	if err != nil {
		return err
	}
	defer d.Close(false)

	tables := d.Tables()
	if opts.Table != "" {
		tables = []string{opts.Table}
	}

	result := InspectResult{Database: opts.Database}
	if id, err := d.SessionID(cmd.Context()); err == nil {
		result.SessionID = id
	}
	for _, name := range tables {
		t, err := d.Table(name)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "unknown table", err)
		}
		n, err := d.NumLines(cmd.Context(), t.Name)
		if err != nil {
			return WrapExitError(ExitCommandError, "count rows", err)
		}
		result.Tables = append(result.Tables, TableInfo{
			Name:   t.Name,
			Kind:   string(t.Kind),
			Fields: t.FieldNames(),
			Rows:   n,
		})
	}
	formatter.VerboseLog("Inspected %d table(s) in %s", len(result.Tables), opts.Database)
	return formatter.Success(result)
}
