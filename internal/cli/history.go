package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coachflow/internal/store"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history <directive-id>",
		Short: "Show recent firings of a directive",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], dbPath, limit, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "coachflow.db", "database file")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to show")
	return cmd
}

func runHistory(opts *RootOptions, directiveID, dbPath string, limit int, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error("E003", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	defer st.Close()

	ctx := cmd.Context()

	d, err := st.GetDirective(ctx, directiveID)
	if err != nil {
		return err
	}
	if d == nil {
		_ = formatter.Error("E004", fmt.Sprintf("directive not found: %s", directiveID), nil)
		return NewExitError(ExitCommandError, "directive not found")
	}

	firings, err := st.ListFirings(ctx, directiveID, limit)
	if err != nil {
		return err
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"directive": d,
			"firings":   firings,
		})
	}

	fmt.Fprintf(formatter.Writer, "%s (%s)  fired %d time(s)", d.ID, d.Name, d.TriggeredCount)
	if d.EffectivenessScore != nil {
		fmt.Fprintf(formatter.Writer, "  effectiveness %.2f", *d.EffectivenessScore)
	}
	fmt.Fprintln(formatter.Writer)

	for _, rec := range firings {
		status := rec.Outcome
		if !rec.Fired {
			status = "failed (" + fmt.Sprint(rec.Attempts) + " attempts)"
		}
		fmt.Fprintf(formatter.Writer, "  %s  client=%s  %s\n",
			rec.FiredAt.UTC().Format(time.RFC3339), rec.ClientID, status)
	}
	if len(firings) == 0 {
		fmt.Fprintln(formatter.Writer, "  no firings recorded")
	}
	return nil
}
