package cli

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/cobra"
)

// manifestSchema is the CUE schema a scene manifest must satisfy.
const manifestSchema = `
#Field: {
	name: string & !=""
	type: "INTEGER" | "FLOAT" | "TEXT" | "BOOLEAN" | "ARRAY" | "DATETIME" | "FK"
	if type == "FK" {
		ref: string & !=""
	}
}

#Table: {
	name:   string & !=""
	kind:   *"STORING" | "EXCHANGE"
	fields: [...#Field]
}

#Manifest: {
	name:   string & !=""
	tables: [...#Table]
}
`

// SceneManifest is the decoded form of a validated manifest.
type SceneManifest struct {
	Name   string `json:"name"`
	Tables []struct {
		Name   string `json:"name"`
		Kind   string `json:"kind"`
		Fields []struct {
			Name string `json:"name"`
			Type string `json:"type"`
			Ref  string `json:"ref,omitempty"`
		} `json:"fields"`
	} `json:"tables"`
}

// ValidationError is one manifest or database mismatch.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return "manifest is valid"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation error(s):\n", len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  [%s] %s\n", e.Code, e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Database string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <manifest.cue>",
		Short: "Validate a CUE scene manifest, optionally against a recording",
		Long: `Validate a CUE scene manifest: schema checking of the manifest
itself, and with --db a comparison against the tables of a recording file
(every manifest table must exist with matching kind and fields).

Exit codes:
  0 - valid
  1 - validation errors
  2 - command error

Examples:
  simrec validate ./scene.cue
  simrec validate ./scene.cue --db ./run.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "recording file to check the manifest against")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	manifest, verrs, err := loadSceneManifest(path)
	if err != nil {
		_ = formatter.Error(ErrCodeBadManifest, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load manifest", err)
	}

	if len(verrs) == 0 && opts.Database != "" {
		dbErrs, err := checkAgainstDatabase(opts.Database, manifest)
		if err != nil {
			return err
		}
		verrs = append(verrs, dbErrs...)
	}

	result := ValidationResult{Valid: len(verrs) == 0, Errors: verrs}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(verrs)))
	}
	return nil
}

// loadSceneManifest compiles the manifest and unifies it with the schema.
// Schema violations come back as validation errors, not hard failures.
func loadSceneManifest(path string) (*SceneManifest, []ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema)
	if schema.Err() != nil {
		return nil, nil, schema.Err()
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if value.Err() != nil {
		return nil, []ValidationError{{Code: ErrCodeBadManifest, Message: value.Err().Error()}}, nil
	}

	unified := schema.LookupPath(cue.ParsePath("#Manifest")).Unify(value)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, []ValidationError{{Code: ErrCodeBadManifest, Message: err.Error()}}, nil
	}

	var manifest SceneManifest
	if err := unified.Decode(&manifest); err != nil {
		return nil, []ValidationError{{Code: ErrCodeBadManifest, Message: err.Error()}}, nil
	}
	return &manifest, nil, nil
}

// checkAgainstDatabase compares the manifest's declared tables with a
// recording file.
func checkAgainstDatabase(path string, manifest *SceneManifest) ([]ValidationError, error) {
	d, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	defer d.Close(false)

	var verrs []ValidationError
	for _, mt := range manifest.Tables {
		t, err := d.Table(mt.Name)
		if err != nil {
			verrs = append(verrs, ValidationError{
				Code:    ErrCodeMissingTable,
				Message: fmt.Sprintf("table %q is not in the recording", mt.Name),
			})
			continue
		}
		if string(t.Kind) != mt.Kind {
			verrs = append(verrs, ValidationError{
				Code:    ErrCodeKindMismatch,
				Message: fmt.Sprintf("table %q is %s, manifest wants %s", mt.Name, t.Kind, mt.Kind),
			})
		}
		for _, mf := range mt.Fields {
			f, ok := t.Field(mf.Name)
			if !ok {
				verrs = append(verrs, ValidationError{
					Code:    ErrCodeMissingField,
					Message: fmt.Sprintf("field %s.%s is not in the recording", mt.Name, mf.Name),
				})
				continue
			}
			if string(f.Type) != mf.Type {
				verrs = append(verrs, ValidationError{
					Code:    ErrCodeMissingField,
					Message: fmt.Sprintf("field %s.%s is %s, manifest wants %s", mt.Name, mf.Name, f.Type, mf.Type),
				})
			}
		}
	}
	return verrs, nil
}
