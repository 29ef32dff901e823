package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/output"
	"github.com/leapstack-labs/sqllineage/internal/pipeline"
	"github.com/leapstack-labs/sqllineage/internal/state"
	"github.com/leapstack-labs/sqllineage/internal/watch"
	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

// AnalyzeOptions holds options for the analyze command.
type AnalyzeOptions struct {
	Watch bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Emit the lineage event of a SQL script",
		Long: `Run the full lineage pipeline over a SQL script and emit one lineage
run event: the base tables read, the dataset written and, for every output
column, the input columns and transformations behind it.

The event is printed as JSON unless --output selects yaml, text or markdown.
With --persist the run is archived in the run store; with --watch the file is
re-analyzed every time it is saved.`,
		Example: `  # Emit the event for a file
  sqllineage analyze query.sql

  # Override the job and archive the run
  sqllineage analyze query.sql --job nightly_orders --namespace warehouse --persist

  # Re-run on every save
  sqllineage analyze query.sql --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-analyze when the file changes")
	cmd.Flags().Bool("persist", false, "Archive the run in the run store")
	cmd.Flags().String("job", "", "Job name reported in the event")
	cmd.Flags().String("namespace", "", "Namespace of the job and its datasets")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, opts *AnalyzeOptions) error {
	if opts.Watch && (len(args) == 0 || args[0] == "-") {
		return errors.New("--watch needs a file argument")
	}

	sql, _, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	cmdCtx := NewCommandContext(cmd)

	var store state.Store
	if cmdCtx.Cfg.Persist {
		s, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		store = s
	}

	analyze := func(ctx context.Context, sql string) error {
		var res *pipeline.Result
		var err error
		if store != nil {
			res, err = cmdCtx.Pipeline.RunAndRecord(ctx, store, sql)
		} else {
			res, err = cmdCtx.Pipeline.Run(ctx, sql)
		}
		if err != nil {
			return err
		}
		return renderEvent(cmdCtx.Renderer, res.Event)
	}

	err = analyze(cmd.Context(), sql)
	if !opts.Watch {
		return err
	}
	if err != nil {
		cmdCtx.Renderer.Error(err.Error())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for changes (Ctrl+C to stop)\n", args[0])
	w := watch.New(watch.Config{Logger: cmdCtx.Logger})
	return w.Watch(ctx, args[:1], func(ctx context.Context, file string) {
		data, err := os.ReadFile(file)
		if err != nil {
			cmdCtx.Renderer.Error(fmt.Sprintf("failed to read %s: %v", file, err))
			return
		}
		if err := analyze(ctx, string(data)); err != nil {
			cmdCtx.Renderer.Error(err.Error())
		}
	})
}

// renderEvent prints the event as JSON by default. Only an explicit text or
// markdown mode selects the summary view.
func renderEvent(r *output.Renderer, ev *openlineage.RunEvent) error {
	switch r.Mode() {
	case output.ModeYAML:
		return r.YAML(ev)
	case output.ModeText, output.ModeMarkdown:
		renderEventSummary(r, ev)
		return nil
	default:
		return r.JSON(ev)
	}
}

func renderEventSummary(r *output.Renderer, ev *openlineage.RunEvent) {
	styles := r.Styles()

	r.Header(1, "Lineage Event")
	r.Println(output.FormatKeyValue("Run", ev.Run.RunID))
	r.Println(output.FormatKeyValue("Job", ev.Job.Namespace+"/"+ev.Job.Name))
	r.Println(output.FormatKeyValue("Event", string(ev.EventType)))

	inputs := make([]string, len(ev.Inputs))
	for i, in := range ev.Inputs {
		inputs[i] = styles.Unit.Render(in.Name)
	}
	r.Println(output.FormatKeyValue("Inputs", strings.Join(inputs, ", ")))
	r.Println("")

	for _, out := range ev.Outputs {
		r.Header(2, out.Name)
		if out.Facets.ColumnLineage == nil {
			continue
		}
		fields := out.Facets.ColumnLineage.Fields
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		slices.Sort(names)

		var rows [][]string
		for _, name := range names {
			for _, in := range fields[name].InputFields {
				var descs []string
				for _, t := range in.Transformations {
					descs = append(descs, t.Description)
				}
				rows = append(rows, []string{name, in.Name + "." + in.Field, strings.Join(descs, "; ")})
			}
		}
		r.Table([]string{"Column", "Input", "Transformation"}, rows)
	}
}
