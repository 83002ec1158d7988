package cli

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simrec/simrec/internal/merge"
	"github.com/simrec/simrec/internal/store"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Out   string
	Force bool
}

// MergeResult holds the merge output.
type MergeResult struct {
	Destination string   `json:"destination"`
	Sources     []string `json:"sources"`
}

func (r MergeResult) String() string {
	return fmt.Sprintf("merged %d file(s) into %s", len(r.Sources), r.Destination)
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <sources...>",
		Short: "Merge recording files into one, unioning overlapping schemas",
		Long: `Merge recording files into a new destination file. Tables sharing a
name have their schemas unioned; fields one source lacks stay NULL for its
rows. Overwriting an existing destination asks for confirmation unless
--force is given.

Exit codes:
  0 - merged
  1 - refused (existing destination, no confirmation)
  2 - command error

Examples:
  simrec merge --out ./all.db ./run1.db ./run2.db
  simrec merge --out ./all.db --force ./run*.db`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "", "destination file (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "replace an existing destination without asking")

	return cmd
}

func runMerge(opts *MergeOptions, sources []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	confirm := func(path string) bool {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s exists and will be replaced. Continue? [y/N] ", path)
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}

	dest, err := merge.Files(
		cmd.Context(), filepath.Dir(opts.Out), filepath.Base(opts.Out), sources,
		merge.Options{Confirm: confirm, Force: opts.Force},
	)
	if err != nil {
		if store.CodeOf(err) == store.ErrCodeDestructive {
			_ = formatter.Error(ErrCodeRefused, err.Error(), nil)
			return WrapExitError(ExitFailure, "merge refused", err)
		}
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "merge failed", err)
	}

	return formatter.Success(MergeResult{Destination: dest, Sources: sources})
}
