package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/leapstack-labs/sqllineage/pkg/core"
)

// Config holds builder configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Builder is the Graph Builder.
type Builder struct {
	logger *slog.Logger
}

// New creates a builder.
func New(cfg Config) *Builder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{logger: logger}
}

var categoryEdges = map[core.OperatorCategory]EdgeType{
	core.CategoryFilters: EdgeFiltersBy,
	core.CategoryJoins:   EdgeJoinsWith,
	core.CategoryGroupBy: EdgeGroupedBy,
	core.CategoryHaving:  EdgeFiltersBy,
	core.CategoryOrderBy: EdgeOrderedBy,
	core.CategoryOther:   EdgeAppliesOperator,
}

// Build converts per-unit analysis results into a graph. fields and ops hold
// one list per unit, in unit order.
func (b *Builder) Build(ctx context.Context, units core.Units, fields [][]core.OutputFieldMapping, ops [][]core.TableOperationRecord) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(fields) != len(units) || len(ops) != len(units) {
		return nil, fmt.Errorf("graph: expected %d field lists and operation lists, got %d and %d",
			len(units), len(fields), len(ops))
	}

	isUnit := make(map[string]bool, len(units))
	for _, u := range units {
		isUnit[normalize(u.Name)] = true
	}

	a := newArena()
	// owner returns the node a column of name belongs to: the unit's node or
	// a table node.
	owner := func(name string) string {
		if isUnit[normalize(name)] {
			return a.node(SubqueryID(name), NodeSubquery, name)
		}
		return a.node(TableID(name), NodeTable, name)
	}
	field := func(ownerName, column string) string {
		id := a.node(FieldID(ownerName, column), NodeField, ownerName+"."+column)
		if !isUnit[normalize(ownerName)] {
			a.edge(owner(ownerName), id, EdgeHasField)
		}
		return id
	}

	for i, u := range units {
		subq := a.node(SubqueryID(u.Name), NodeSubquery, u.Name)

		for _, rec := range ops[i] {
			src := owner(rec.SourceTable)
			switch {
			case src == subq:
			case isUnit[normalize(rec.SourceTable)]:
				a.edge(subq, src, EdgeDependsOn)
			default:
				a.edge(subq, src, EdgeUsesTable)
			}

			used := make([]string, len(rec.SourceFields))
			for j, f := range rec.SourceFields {
				used[j] = field(rec.SourceTable, f)
			}
			for _, cat := range core.Categories {
				for _, pred := range rec.Operators.Get(cat) {
					op := a.node(OperationID(string(cat), pred), NodeOperation, pred)
					a.edge(subq, op, EdgeAppliesOperator)
					a.edge(src, op, categoryEdges[cat])
					for j, f := range rec.SourceFields {
						if mentions(pred, f) {
							a.edge(used[j], op, categoryEdges[cat])
						}
					}
				}
			}
		}

		for _, m := range fields[i] {
			out := field(u.Name, m.Name)
			a.edge(subq, out, EdgeProducesField)
			for _, s := range m.Sources {
				a.edge(out, field(s.Table, s.Column), EdgeDerivedFrom)
			}
			if !m.EffectiveKind().Trivial() && m.Transformation != "" {
				op := a.node(OperationID("transformation", m.Transformation), NodeOperation, m.Transformation)
				a.edge(out, op, EdgeTransformation)
			}
		}
	}

	g, err := a.graph()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("built graph",
		slog.Int("units", len(units)),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)))
	return g, nil
}

// mentions reports whether pred contains column as a whole identifier.
// String literals are skipped.
func mentions(pred, column string) bool {
	var word strings.Builder
	quoted := false
	for _, r := range pred + " " {
		switch {
		case r == '\'':
			// '' inside a literal closes and reopens it, which keeps it quoted.
			quoted = !quoted
		case quoted:
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
			continue
		}
		if word.Len() > 0 && strings.EqualFold(word.String(), column) {
			return true
		}
		word.Reset()
	}
	return false
}
