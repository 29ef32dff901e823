// Package derive implements the Field Derivation Analyzer.
//
// For one logical unit it maps every projected column to the columns that
// feed it and describes the transformation applied. Descriptions are short
// phrases followed by the canonical expression text, for example
// "aggregation: SUM(amount)" or "concatenation with case transformation
// UPPER(): UPPER(first_name) || ' ' || last_name".
package derive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqllineage/internal/lineage"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/format"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
)

// Config holds analyzer configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Analyzer is the Field Derivation Analyzer.
type Analyzer struct {
	logger *slog.Logger
}

// New creates an analyzer.
func New(cfg Config) *Analyzer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{logger: logger}
}

// Analyze returns one mapping per output column of unit, in projection order.
func (a *Analyzer) Analyze(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.OutputFieldMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := lineage.Load(unit, cat)
	if err != nil {
		return nil, core.NewFieldDerivationError(unit.Name, "", err, "cannot load unit")
	}

	var branches [][]core.OutputFieldMapping
	for _, c := range u.Cores {
		outputs, err := u.Outputs(c)
		if err != nil {
			return nil, core.NewFieldDerivationError(unit.Name, "", err, "cannot list output columns")
		}
		d := &deriver{unit: u, core: c, groups: groupKeys(c)}
		mappings := make([]core.OutputFieldMapping, 0, len(outputs))
		for _, out := range outputs {
			m, err := d.field(out)
			if err != nil {
				return nil, err
			}
			mappings = append(mappings, m)
		}
		branches = append(branches, mappings)
	}

	mappings, err := merge(unit.Name, setOpLabel(u.Stmt.Body), branches)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("derived fields",
		slog.String("unit", unit.Name),
		slog.Int("mappings", len(mappings)))
	return mappings, nil
}

// merge combines the branches of a set operation position by position.
func merge(unit, op string, branches [][]core.OutputFieldMapping) ([]core.OutputFieldMapping, error) {
	first := branches[0]
	for i, b := range branches[1:] {
		if len(b) != len(first) {
			return nil, core.NewFieldDerivationError(unit, "", nil,
				"%s branch %d selects %d columns, first branch selects %d", op, i+2, len(b), len(first))
		}
	}
	if len(branches) == 1 {
		return first, nil
	}

	out := make([]core.OutputFieldMapping, len(first))
	for i := range first {
		m := core.OutputFieldMapping{Name: first[i].Name, Sources: []core.ColumnRef{}, Kind: first[i].Kind}
		descs := make([]string, 0, len(branches))
		same := true
		for _, b := range branches {
			for _, src := range b[i].Sources {
				m.AddSource(src)
			}
			descs = append(descs, b[i].Transformation)
			if b[i].Transformation != first[i].Transformation {
				same = false
			}
		}
		if same {
			m.Transformation = first[i].Transformation
		} else {
			m.Transformation = fmt.Sprintf("set operation %s: %s", op, strings.Join(descs, " | "))
			m.Kind = core.TransformExpression
		}
		out[i] = m
	}
	return out, nil
}

func setOpLabel(body *parser.SelectBody) string {
	if body == nil || body.Op == parser.SetOpNone {
		return "query"
	}
	label := string(body.Op)
	if body.All && !strings.HasSuffix(label, "ALL") {
		label += " ALL"
	}
	return label
}

type deriver struct {
	unit   *lineage.Unit
	core   *lineage.Core
	groups map[string]bool
}

func (d *deriver) field(out lineage.Output) (core.OutputFieldMapping, error) {
	m := core.OutputFieldMapping{Name: out.Name, Sources: []core.ColumnRef{}}

	if out.Star {
		entries := d.core.Tables()
		if out.Qualifier != "" {
			entry, _ := d.core.Scope.Lookup(out.Qualifier)
			entries = []*parser.ScopeEntry{entry}
		}
		for _, e := range entries {
			m.AddSource(core.ColumnRef{Table: e.Source, Column: "*"})
		}
		m.Transformation = "direct"
		m.Kind = core.TransformDirect
		return m, nil
	}

	if err := d.sources(&m, out.Expr, d.core); err != nil {
		return m, err
	}
	m.Transformation, m.Kind = d.describe(out.Expr, len(m.Sources) > 0)
	return m, nil
}

// sources adds every column feeding e to m. c is the core e is evaluated in.
func (d *deriver) sources(m *core.OutputFieldMapping, e parser.Expr, c *lineage.Core) error {
	var err error
	parser.Walk(e, func(n parser.Expr) bool {
		if err != nil {
			return false
		}
		switch x := n.(type) {
		case *parser.ColumnRef:
			err = d.column(m, x, c)
		case *parser.SubqueryExpr:
			err = d.subquery(m, x.Select, c, true)
		case *parser.InExpr:
			if x.Query != nil {
				err = d.subquery(m, x.Query, c, true)
			}
		case *parser.ExistsExpr:
			err = d.subquery(m, x.Select, c, false)
		}
		return true
	})
	return err
}

func (d *deriver) column(m *core.OutputFieldMapping, ref *parser.ColumnRef, c *lineage.Core) error {
	srcs, err := c.Resolve(ref)
	if err != nil {
		return core.NewFieldDerivationError(d.unit.Unit.Name, m.Name, err, "cannot resolve column %s", format.Expr(ref))
	}
	for _, s := range srcs {
		if s.Outer && c == d.core {
			return core.NewFieldDerivationError(d.unit.Unit.Name, m.Name, nil,
				"correlated column %s cannot feed an output", format.Expr(ref))
		}
		m.AddSource(s.Ref())
	}
	return nil
}

// subquery adds the sources of a nested query. A query materialized as a
// unit feeds its first output column; a trivial one is resolved in place.
func (d *deriver) subquery(m *core.OutputFieldMapping, stmt *parser.SelectStmt, c *lineage.Core, valued bool) error {
	if name, ok := d.unit.NestedUnit(stmt); ok {
		if !valued {
			return nil
		}
		cols, known := d.unit.Catalog().Columns(name)
		if !known || len(cols) == 0 {
			return core.NewFieldDerivationError(d.unit.Unit.Name, m.Name, nil, "subquery %s has unknown columns", name)
		}
		m.AddSource(core.ColumnRef{Table: name, Column: cols[0]})
		return nil
	}

	cores, err := d.unit.Scopes(stmt, c.Scope)
	if err != nil {
		return core.NewFieldDerivationError(d.unit.Unit.Name, m.Name, err, "cannot resolve subquery")
	}
	if !valued {
		return nil
	}
	for _, inner := range cores {
		for _, item := range inner.Select.Columns {
			if err := d.sources(m, item.Expr, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

// groupKeys returns the keys of the core's GROUP BY expressions. Ordinals and
// output aliases are replaced by the select expression they name; an alias
// wins over a column of the same name.
func groupKeys(c *lineage.Core) map[string]bool {
	keys := make(map[string]bool)
	sel := c.Select
	for _, g := range sel.GroupBy {
		if lit, ok := g.(*parser.Literal); ok && lit.Type == parser.LiteralNumber {
			var pos int
			if _, err := fmt.Sscanf(lit.Value, "%d", &pos); err == nil && pos >= 1 && pos <= len(sel.Columns) {
				g = sel.Columns[pos-1].Expr
			}
		} else if ref, ok := g.(*parser.ColumnRef); ok && ref.Table == "" {
			for _, item := range sel.Columns {
				if strings.EqualFold(item.Alias, ref.Column) {
					g = item.Expr
					break
				}
			}
		}
		if g != nil {
			keys[exprKey(c, g)] = true
		}
	}
	if sel.GroupByAll {
		for _, item := range sel.Columns {
			if item.Expr != nil && !hasAggregate(item.Expr) {
				keys[exprKey(c, item.Expr)] = true
			}
		}
	}
	return keys
}

// exprKey identifies an expression for GROUP BY matching. Column references
// compare by the entry they resolve to.
func exprKey(c *lineage.Core, e parser.Expr) string {
	e = unparen(e)
	if ref, ok := e.(*parser.ColumnRef); ok {
		if srcs, err := c.Resolve(ref); err == nil && len(srcs) > 0 {
			return "col:" + strings.ToLower(srcs[0].Entry.EffectiveName()+"."+ref.Column)
		}
	}
	return format.Expr(e)
}

func unparen(e parser.Expr) parser.Expr {
	for {
		p, ok := e.(*parser.ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

func hasAggregate(e parser.Expr) bool {
	return inspect(e).aggregate != nil
}
