package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/coachflow/internal/compiler"
)

// ValidationResult holds validation output for the JSON format.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Directives []string `json:"directives,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <directives-dir>",
		Short: "Validate directive files without loading them",
		Long: `Validate CUE directive files: syntax, trigger shape, scope form,
action and comparison names. Nothing is written to the database.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	directives, err := LoadDirectives(dir)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			_ = formatter.Error("E001", exitErr.Message, nil)
			return err
		}
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			if formatter.Format == "json" {
				_ = formatter.Error("E002", compileErr.Error(), nil)
			} else {
				fmt.Fprintf(formatter.Writer, "✗ Validation failed\n\n  %s\n", compileErr.Error())
			}
			return NewExitError(ExitFailure, compileErr.Error())
		}
		return err
	}

	if formatter.Format == "json" {
		ids := make([]string, 0, len(directives))
		for _, d := range directives {
			ids = append(ids, d.ID)
		}
		return formatter.Success(ValidationResult{Valid: true, Directives: ids})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d directive(s) valid\n", len(directives))
	for _, d := range directives {
		formatter.VerboseLog("  %s (%s)", d.ID, d.Name)
	}
	return nil
}
