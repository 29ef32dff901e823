package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/output"
	"github.com/leapstack-labs/sqllineage/pkg/core"
)

// operationsDocument is the JSON/YAML shape of the operations command.
type operationsDocument struct {
	Units      core.Units                    `json:"units"`
	Operations [][]core.TableOperationRecord `json:"operations"`
}

// NewOperationsCommand creates the operations command.
func NewOperationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operations [file|-]",
		Short: "Show the operators every unit applies to its sources",
		Long: `Decompose a SQL script and list, for each unit and source, the filters,
joins, grouping, having and ordering predicates applied to it.`,
		Example: `  # Show operations
  sqllineage operations query.sql

  # As YAML
  sqllineage operations query.sql -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperations(cmd, args)
		},
	}
	return cmd
}

func runOperations(cmd *cobra.Command, args []string) error {
	sql, _, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	a, err := cmdCtx.Pipeline.Analyze(cmd.Context(), sql)
	if err != nil {
		return err
	}
	if ok, err := r.Document(operationsDocument{Units: a.Decomposition.Units, Operations: a.Operations}); ok {
		return err
	}

	r.Header(1, "Table Operations")
	for i, u := range a.Decomposition.Units {
		renderOperations(r, u, a.Operations[i])
	}
	return nil
}

func renderOperations(r *output.Renderer, u core.LogicalUnit, records []core.TableOperationRecord) {
	r.Header(2, u.Name)
	var rows [][]string
	for _, rec := range records {
		fields := strings.Join(rec.SourceFields, ", ")
		if rec.Operators.Empty() {
			rows = append(rows, []string{rec.SourceTable, fields, "", ""})
			continue
		}
		for _, c := range core.Categories {
			for _, pred := range rec.Operators.Get(c) {
				rows = append(rows, []string{rec.SourceTable, fields, r.Label(string(c)), pred})
			}
		}
	}
	r.Table([]string{"Source", "Fields", "Operator", "Predicate"}, rows)
}
