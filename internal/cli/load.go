package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "load <directives-dir>",
		Short: "Compile directive files and load them into the database",
		Long: `Compile every CUE directive file in the directory and upsert the
results. Loading is all-or-nothing per run: a single malformed directive
aborts before anything is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(rootOpts, args[0], dbPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "coachflow.db", "database file")
	return cmd
}

func runLoad(opts *RootOptions, dir, dbPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	directives, err := LoadDirectives(dir)
	if err != nil {
		_ = formatter.Error("E002", err.Error(), nil)
		return err
	}

	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error("E003", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	defer st.Close()

	ctx := cmd.Context()
	for _, d := range directives {
		if err := st.PutDirective(ctx, d); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				_ = formatter.Error("E002", fmt.Sprintf("directive %s: %s", d.ID, ve.Error()), nil)
				return NewExitError(ExitFailure, ve.Error())
			}
			return err
		}
		formatter.VerboseLog("loaded %s", d.ID)
	}

	if formatter.Format == "json" {
		ids := make([]string, 0, len(directives))
		for _, d := range directives {
			ids = append(ids, d.ID)
		}
		return formatter.Success(map[string]any{"loaded": ids})
	}
	fmt.Fprintf(formatter.Writer, "✓ Loaded %d directive(s)\n", len(directives))
	return nil
}
