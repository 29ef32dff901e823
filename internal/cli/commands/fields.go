package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/output"
	"github.com/leapstack-labs/sqllineage/pkg/core"
)

// fieldsDocument is the JSON/YAML shape of the fields command.
type fieldsDocument struct {
	Units  core.Units                  `json:"units"`
	Fields [][]core.OutputFieldMapping `json:"fields"`
}

// NewFieldsCommand creates the fields command.
func NewFieldsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fields [file|-]",
		Short: "Show how every unit's output columns are derived",
		Long: `Decompose a SQL script and derive, for each unit, the source columns
and transformation behind every output column.`,
		Example: `  # Show field derivations
  sqllineage fields query.sql

  # As JSON, one list per unit
  sqllineage fields query.sql -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFields(cmd, args)
		},
	}
	return cmd
}

func runFields(cmd *cobra.Command, args []string) error {
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
	if ok, err := r.Document(fieldsDocument{Units: a.Decomposition.Units, Fields: a.Fields}); ok {
		return err
	}

	r.Header(1, "Field Derivations")
	for i, u := range a.Decomposition.Units {
		renderFields(r, u, a.Fields[i])
	}
	return nil
}

func renderFields(r *output.Renderer, u core.LogicalUnit, fields []core.OutputFieldMapping) {
	r.Header(2, u.Name)
	rows := make([][]string, len(fields))
	for i, f := range fields {
		rows[i] = []string{f.Name, joinRefs(f.Sources), r.Label(string(f.EffectiveKind())), f.Transformation}
	}
	r.Table([]string{"Column", "Sources", "Kind", "Transformation"}, rows)
}

func joinRefs(refs []core.ColumnRef) string {
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = ref.String()
	}
	return strings.Join(parts, ", ")
}
