package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/output"
	"github.com/leapstack-labs/sqllineage/internal/state"
)

// defaultRunsLimit is how many runs list shows by default.
const defaultRunsLimit = 20

// NewRunsCommand creates the runs command and its subcommands.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived lineage runs",
		Long: `Inspect the runs archived by "analyze --persist" and "serve --persist".

The archive lives at store_path (default .sqllineage/runs.db).`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Example: `  # Last 20 runs
  sqllineage runs list

  # Last 5 runs as JSON
  sqllineage runs list --limit 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			cmdCtx := NewCommandContext(cmd)
			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*state.Run{}
			}
			return renderRuns(cmdCtx.Renderer, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultRunsLimit, "Maximum number of runs to list")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its event and graph",
		Example: `  # Show a run
  sqllineage runs show 6f1c0a0e-1d7e-4c89-9a55-0c3c4c4b7a10 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderRun(cmdCtx.Renderer, run)
		},
	}
}

func renderRuns(r *output.Renderer, runs []*state.Run) error {
	if ok, err := r.Document(runs); ok {
		return err
	}

	r.Header(1, "Runs")
	if len(runs) == 0 {
		r.Muted("No runs archived yet")
		return nil
	}
	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{run.ID, run.Namespace + "/" + run.JobName, statusText(r, run.Status), fmt.Sprint(run.Units), run.StartedAt.Local().Format(time.DateTime), duration(run)}
	}
	r.Table([]string{"ID", "Job", "Status", "Units", "Started", "Duration"}, rows)
	return nil
}

func renderRun(r *output.Renderer, run *state.Run) error {
	if ok, err := r.Document(run); ok {
		return err
	}

	r.Header(1, "Run "+run.ID)
	r.Println(output.FormatKeyValue("Job", run.Namespace+"/"+run.JobName))
	r.Println(output.FormatKeyValue("Status", statusText(r, run.Status)))
	r.Println(output.FormatKeyValue("Units", fmt.Sprint(run.Units)))
	r.Println(output.FormatKeyValue("Started", run.StartedAt.Local().Format(time.DateTime)))
	if d := duration(run); d != "" {
		r.Println(output.FormatKeyValue("Duration", d))
	}
	if run.Error != "" {
		r.Println(output.FormatKeyValue("Error", r.Styles().Error.Render(run.Error)))
	}
	r.Println("")
	r.Header(2, "SQL")
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println("```sql")
		r.Println(run.SQL)
		r.Println("```")
	} else {
		r.Println(run.SQL)
	}
	return nil
}

func statusText(r *output.Renderer, status state.RunStatus) string {
	styles := r.Styles()
	switch status {
	case state.RunStatusCompleted:
		return styles.Success.Render(string(status))
	case state.RunStatusFailed:
		return styles.Error.Render(string(status))
	default:
		return styles.Warning.Render(string(status))
	}
}

func duration(run *state.Run) string {
	if run.CompletedAt == nil {
		return ""
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}
