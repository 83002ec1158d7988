package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/simrec/simrec/internal/merge"
)

// RenameManifest is the YAML shape consumed by the rename command.
type RenameManifest struct {
	Tables map[string]string            `yaml:"tables"`
	Fields map[string]map[string]string `yaml:"fields"` // table -> old -> new
}

// RemoveManifest is the YAML shape consumed by the remove command.
type RemoveManifest struct {
	Tables []string            `yaml:"tables"`
	Fields map[string][]string `yaml:"fields"` // table -> field names
}

// RefactorOptions holds flags shared by rename and remove.
type RefactorOptions struct {
	*RootOptions
	Database string
	Manifest string
}

func loadManifest(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read manifest", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return WrapExitError(ExitCommandError, "parse manifest", err)
	}
	return nil
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefactorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename tables and fields of a closed recording",
		Long: `Apply a YAML rename manifest to a recording file.

Manifest shape:
  tables:
    Oldname: Newname
  fields:
    Table:
      old_field: new_field

Example:
  simrec rename --db ./run.db --manifest ./renames.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRename(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "YAML rename manifest (required)")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runRename(opts *RefactorOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var manifest RenameManifest
	if err := loadManifest(opts.Manifest, &manifest); err != nil {
		_ = formatter.Error(ErrCodeBadManifest, err.Error(), nil)
		return err
	}

	dir, name := filepath.Dir(opts.Database), filepath.Base(opts.Database)
	if len(manifest.Tables) > 0 {
		if err := merge.RenameTables(cmd.Context(), dir, name, manifest.Tables); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "rename tables", err)
		}
	}
	for table, renames := range manifest.Fields {
		if err := merge.RenameFields(cmd.Context(), dir, name, table, renames); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "rename fields", err)
		}
	}

	formatter.VerboseLog("Applied %d table and %d field rename group(s)",
		len(manifest.Tables), len(manifest.Fields))
	return formatter.Success(fmt.Sprintf("renamed schema of %s", opts.Database))
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefactorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove tables and fields from a closed recording",
		Long: `Apply a YAML removal manifest to a recording file. Removing a
foreign-key target table or a reserved field fails without modification.

Manifest shape:
  tables: [Scratch, Debug]
  fields:
    Particle: [temp_flag]

Example:
  simrec remove --db ./run.db --manifest ./removals.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "YAML removal manifest (required)")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runRemove(opts *RefactorOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var manifest RemoveManifest
	if err := loadManifest(opts.Manifest, &manifest); err != nil {
		_ = formatter.Error(ErrCodeBadManifest, err.Error(), nil)
		return err
	}

	dir, name := filepath.Dir(opts.Database), filepath.Base(opts.Database)
	if len(manifest.Tables) > 0 {
		if err := merge.RemoveTables(cmd.Context(), dir, name, manifest.Tables...); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "remove tables", err)
		}
	}
	for table, fields := range manifest.Fields {
		if err := merge.RemoveFields(cmd.Context(), dir, name, table, fields...); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "remove fields", err)
		}
	}

	return formatter.Success(fmt.Sprintf("removed schema elements from %s", opts.Database))
}
