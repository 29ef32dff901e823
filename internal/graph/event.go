package graph

import (
	"context"
	"log/slog"
	"slices"

	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

// FromEvent builds a graph from a composed lineage event: one table node per
// input and output dataset, their fields, derived_from edges from output to
// input fields, and one operation node per non-identity transformation.
func (b *Builder) FromEvent(ctx context.Context, ev *openlineage.RunEvent) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := newArena()
	field := func(table, column string) string {
		tbl := a.node(TableID(table), NodeTable, table)
		id := a.node(FieldID(table, column), NodeField, table+"."+column)
		a.edge(tbl, id, EdgeHasField)
		return id
	}

	for _, in := range ev.Inputs {
		a.node(TableID(in.Name), NodeTable, in.Name)
		if in.Facets.Schema != nil {
			for _, f := range in.Facets.Schema.Fields {
				field(in.Name, f.Name)
			}
		}
	}

	for _, out := range ev.Outputs {
		a.node(TableID(out.Name), NodeTable, out.Name)
		lineage := out.Facets.ColumnLineage
		if lineage == nil {
			continue
		}
		for _, name := range sortedKeys(lineage.Fields) {
			target := field(out.Name, name)
			for _, in := range lineage.Fields[name].InputFields {
				a.edge(target, field(in.Name, in.Field), EdgeDerivedFrom)
				for _, t := range in.Transformations {
					if t.Subtype == openlineage.SubtypeIdentity || t.Description == "" {
						continue
					}
					op := a.node(OperationID("transformation", t.Description), NodeOperation, t.Description)
					a.edge(target, op, EdgeTransformation)
				}
			}
		}
	}

	g, err := a.graph()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("built graph from event",
		slog.String("run_id", ev.Run.RunID),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)))
	return g, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
