package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/output"
	"github.com/leapstack-labs/sqllineage/pkg/core"
)

// NewDecomposeCommand creates the decompose command.
func NewDecomposeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose [file|-]",
		Short: "Split a SQL script into logical units",
		Long: `Split a SQL script into its logical units: one per CTE, one per
non-trivial subquery and the main query, in dependency order.

Output adapts to environment:
  - Terminal: Styled table
  - Piped/Scripted: Markdown table
  - --output json|yaml: the "sp" unit map`,
		Example: `  # Decompose a file
  sqllineage decompose query.sql

  # Read from stdin and emit the unit map as JSON
  cat query.sql | sqllineage decompose -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompose(cmd, args)
		},
	}
	return cmd
}

func runDecompose(cmd *cobra.Command, args []string) error {
	sql, _, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	d, err := cmdCtx.Pipeline.Decompose(cmd.Context(), sql)
	if err != nil {
		return err
	}
	if ok, err := r.Document(d); ok {
		return err
	}
	renderUnits(r, d)
	return nil
}

func renderUnits(r *output.Renderer, d *core.Decomposition) {
	r.Header(1, "Logical Units")

	rows := make([][]string, len(d.Units))
	for i, u := range d.Units {
		rows[i] = []string{u.ID, u.Name, string(u.Kind), oneLine(u.SQL)}
	}
	r.Table([]string{"ID", "Name", "Kind", "SQL"}, rows)

	summary := fmt.Sprintf("%d units, %s statement", len(d.Units), d.Kind)
	if d.Target != "" {
		summary += ", target " + d.Target
	}
	r.Muted(summary)
}

// oneLine collapses whitespace so SQL fits a table cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
