// Package trace implements the Operation Tracer.
//
// For one logical unit it lists every table or unit the query reads and the
// row-affecting operators applied to each: filters, joins, grouping, having,
// ordering and other predicates (CASE conditions, QUALIFY, DISTINCT, LIMIT).
//
// # Normalization
//
// Predicates are printed canonically. Columns of a single-table query are
// printed bare; once a query reads several tables, or a predicate reaches
// into an enclosing query, columns are qualified by the alias they are read
// through. The same condition therefore prints byte-identical for every table
// it is attributed to.
package trace

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/sqllineage/internal/lineage"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/format"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Config holds tracer configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Tracer is the Operation Tracer.
type Tracer struct {
	logger *slog.Logger
}

// New creates a tracer.
func New(cfg Config) *Tracer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracer{logger: logger}
}

// Trace returns one record per table or unit read by unit, in the order the
// query first reads them.
func (t *Tracer) Trace(ctx context.Context, unit core.LogicalUnit, cat *core.Catalog) ([]core.TableOperationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := lineage.Load(unit, cat)
	if err != nil {
		return nil, core.NewOperationTraceError(unit.Name, err, "cannot load unit")
	}

	tr := &tracer{
		unit:   u,
		index:  make(map[string]int),
		fields: make(map[string]map[core.OperatorCategory][]string),
	}
	for _, c := range u.Cores {
		for _, e := range c.Tables() {
			tr.ensure(e.Source)
		}
	}
	for _, c := range u.Cores {
		if err := tr.core(c); err != nil {
			return nil, err
		}
	}

	records := tr.finish()
	t.logger.Debug("traced operations",
		slog.String("unit", unit.Name),
		slog.Int("records", len(records)))
	return records, nil
}

// use is one column a predicate reads, keyed by record.
type use struct {
	source string
	column string
}

// reads is what one predicate reads.
type reads struct {
	uses []use
	// targets are records the predicate applies to without reading one of
	// their columns directly (subquery units, tables of inline subqueries).
	targets []string
	// outer is set when the predicate reaches into an enclosing query.
	outer bool
}

type tracer struct {
	unit    *lineage.Unit
	records []*core.TableOperationRecord
	index   map[string]int
	fields  map[string]map[core.OperatorCategory][]string
}

func (t *tracer) ensure(source string) {
	key := strings.ToLower(source)
	if _, ok := t.index[key]; ok {
		return
	}
	t.index[key] = len(t.records)
	t.records = append(t.records, &core.TableOperationRecord{SourceTable: source})
	t.fields[key] = make(map[core.OperatorCategory][]string)
}

func (t *tracer) errorf(cause error, format string, args ...any) error {
	return core.NewOperationTraceError(t.unit.Unit.Name, cause, format, args...)
}

func (t *tracer) core(c *lineage.Core) error {
	sel := c.Select
	tables := c.Tables()

	if sel.From != nil {
		for i, j := range sel.From.Joins {
			if err := t.join(c, j, tables[:i+1], tables[i+1]); err != nil {
				return err
			}
		}
	}

	for _, cond := range parser.Conjuncts(sel.Where) {
		if err := t.predicate(c, core.CategoryFilters, cond, false); err != nil {
			return err
		}
	}

	groups := sel.GroupBy
	if sel.GroupByAll {
		groups = nil
		for _, item := range sel.Columns {
			if item.Expr != nil && !containsAggregate(item.Expr) {
				groups = append(groups, item.Expr)
			}
		}
	}
	for _, g := range groups {
		if err := t.predicate(c, core.CategoryGroupBy, ordinal(sel, g), true); err != nil {
			return err
		}
	}

	for _, cond := range parser.Conjuncts(sel.Having) {
		if err := t.predicate(c, core.CategoryHaving, cond, true); err != nil {
			return err
		}
	}

	for _, item := range sel.OrderBy {
		item.Expr = ordinal(sel, item.Expr)
		if err := t.order(c, item); err != nil {
			return err
		}
	}

	return t.other(c)
}

// other records CASE conditions and subquery predicates of the select list,
// QUALIFY, DISTINCT and LIMIT.
func (t *tracer) other(c *lineage.Core) error {
	sel := c.Select
	for _, item := range sel.Columns {
		var conds []parser.Expr
		var scalars []*parser.SelectStmt
		parser.Walk(item.Expr, func(n parser.Expr) bool {
			switch x := n.(type) {
			case *parser.CaseExpr:
				for _, w := range x.Whens {
					if x.Operand != nil {
						conds = append(conds, &parser.BinaryExpr{Left: x.Operand, Op: token.EQ, Right: w.Condition})
					} else {
						conds = append(conds, w.Condition)
					}
				}
			case *parser.ExistsExpr:
				conds = append(conds, x)
				return false
			case *parser.InExpr:
				if x.Query != nil {
					conds = append(conds, x)
					return false
				}
			case *parser.SubqueryExpr:
				scalars = append(scalars, x.Select)
				return false
			}
			return true
		})
		// Scalar subqueries feed values, not rows; what they read is still a
		// source of this unit.
		for _, stmt := range scalars {
			var r reads
			if err := t.nested(c, stmt, false, &r); err != nil {
				return err
			}
		}
		for _, cond := range conds {
			if err := t.predicate(c, core.CategoryOther, cond, false); err != nil {
				return err
			}
		}
	}

	for _, cond := range parser.Conjuncts(sel.Qualify) {
		if err := t.predicate(c, core.CategoryOther, cond, true); err != nil {
			return err
		}
	}

	if sel.Distinct {
		t.apply(c, core.CategoryOther, "DISTINCT", reads{})
	}
	if sel.Limit != nil {
		t.apply(c, core.CategoryOther, "LIMIT "+format.Expr(sel.Limit), reads{})
	}
	if sel.Offset != nil {
		t.apply(c, core.CategoryOther, "OFFSET "+format.Expr(sel.Offset), reads{})
	}
	return nil
}

func (t *tracer) join(c *lineage.Core, j *parser.Join, left []*parser.ScopeEntry, right *parser.ScopeEntry) error {
	switch {
	case j.Natural:
		r := reads{targets: []string{right.Source}}
		for _, e := range left {
			r.targets = append(r.targets, e.Source)
		}
		t.apply(c, core.CategoryJoins, "NATURAL JOIN "+format.Ident(right.EffectiveName()), r)
	case len(j.Using) > 0:
		r := reads{targets: []string{right.Source}}
		for _, col := range j.Using {
			srcs, err := c.Resolve(&parser.ColumnRef{Column: col})
			if err != nil {
				return t.errorf(err, "cannot resolve USING column %s", col)
			}
			for _, s := range srcs {
				r.uses = append(r.uses, use{source: s.Entry.Source, column: col})
			}
		}
		t.apply(c, core.CategoryJoins, format.UsingClause(j.Using), r)
	default:
		for _, cond := range parser.Conjuncts(j.Condition) {
			r, err := t.collect(c, cond, false)
			if err != nil {
				return err
			}
			r.targets = append(r.targets, right.Source)
			t.apply(c, core.CategoryJoins, t.print(c, cond, r.outer, false), r)
		}
	}
	return nil
}

// predicate records one predicate. aliases allows output aliases to stand
// for the expression they name.
func (t *tracer) predicate(c *lineage.Core, cat core.OperatorCategory, e parser.Expr, aliases bool) error {
	r, err := t.collect(c, e, aliases)
	if err != nil {
		return err
	}
	t.apply(c, cat, t.print(c, e, r.outer, aliases), r)
	return nil
}

func (t *tracer) order(c *lineage.Core, item parser.OrderByItem) error {
	r, err := t.collect(c, item.Expr, true)
	if err != nil {
		return err
	}
	text := format.OrderByItem(item, format.Options{Column: t.columnPrinter(c, r.outer, true)})
	t.apply(c, core.CategoryOrderBy, text, r)
	return nil
}

// apply attaches a predicate to every record it reads or targets, or to all
// tables of the core when it reads none.
func (t *tracer) apply(c *lineage.Core, cat core.OperatorCategory, pred string, r reads) {
	targets := make([]string, 0, len(r.uses)+len(r.targets))
	for _, u := range r.uses {
		targets = append(targets, u.source)
	}
	targets = append(targets, r.targets...)
	if len(targets) == 0 {
		for _, e := range c.Tables() {
			targets = append(targets, e.Source)
		}
	}

	for _, source := range targets {
		t.ensure(source)
		rec := t.records[t.index[strings.ToLower(source)]]
		rec.Operators.Add(cat, pred)
	}
	for _, u := range r.uses {
		key := strings.ToLower(u.source)
		t.fields[key][cat] = append(t.fields[key][cat], u.column)
	}
}

// print renders a predicate of core c. qualify forces alias-qualified
// columns even in a single-table query.
func (t *tracer) print(c *lineage.Core, e parser.Expr, qualify, aliases bool) string {
	return format.ExprWith(e, format.Options{Column: t.columnPrinter(c, qualify, aliases)})
}

func (t *tracer) columnPrinter(c *lineage.Core, qualify, aliases bool) func(*parser.ColumnRef) string {
	qualify = qualify || len(c.Tables()) > 1
	return func(ref *parser.ColumnRef) string {
		if aliases && outputAlias(c.Select, ref) != nil {
			return format.Ident(ref.Column)
		}
		srcs, err := c.Resolve(ref)
		if err != nil || len(srcs) != 1 || srcs[0].Outer {
			return format.Expr(ref)
		}
		if !qualify {
			return format.Ident(ref.Column)
		}
		return format.Ident(srcs[0].Entry.EffectiveName()) + "." + format.Ident(ref.Column)
	}
}

// collect resolves everything a predicate of core c reads.
func (t *tracer) collect(c *lineage.Core, e parser.Expr, aliases bool) (reads, error) {
	var r reads
	for _, ref := range parser.Columns(e) {
		if aliases {
			if expr := outputAlias(c.Select, ref); expr != nil {
				for _, inner := range parser.Columns(expr) {
					if err := t.column(c, inner, &r); err != nil {
						return r, err
					}
				}
				continue
			}
		}
		if err := t.column(c, ref, &r); err != nil {
			return r, err
		}
	}

	var err error
	parser.Walk(e, func(n parser.Expr) bool {
		if err != nil {
			return false
		}
		switch x := n.(type) {
		case *parser.ExistsExpr:
			err = t.nested(c, x.Select, false, &r)
		case *parser.InExpr:
			if x.Query != nil {
				err = t.nested(c, x.Query, true, &r)
			}
		case *parser.SubqueryExpr:
			err = t.nested(c, x.Select, true, &r)
		}
		return true
	})
	return r, err
}

func (t *tracer) column(c *lineage.Core, ref *parser.ColumnRef, r *reads) error {
	srcs, err := c.Resolve(ref)
	if err == nil {
		for _, s := range srcs {
			if s.Outer {
				r.outer = true
				continue
			}
			r.uses = append(r.uses, use{source: s.Entry.Source, column: ref.Column})
		}
		return nil
	}

	// A qualifier naming no table of this unit belongs to the query the
	// subquery was lifted out of.
	if ref.Table != "" && t.unit.Unit.Kind == core.UnitSubquery {
		if _, found := c.Scope.Lookup(ref.Table); !found {
			r.outer = true
			return nil
		}
	}

	return t.errorf(err, "cannot resolve column %s", format.Expr(ref))
}

// nested handles a query inside a predicate. A query materialized as a unit
// becomes a target; the tables of an inline query become targets with the
// columns it selects. Columns it correlates on are reads of c.
func (t *tracer) nested(c *lineage.Core, stmt *parser.SelectStmt, valued bool, r *reads) error {
	cores, err := t.unit.Scopes(stmt, c.Scope)
	if err != nil {
		return t.errorf(err, "cannot resolve subquery")
	}

	if name, ok := t.unit.NestedUnit(stmt); ok {
		t.ensure(name)
		cols, known := t.unit.Catalog().Columns(name)
		if valued && known && len(cols) > 0 {
			r.uses = append(r.uses, use{source: name, column: cols[0]})
		} else {
			r.targets = append(r.targets, name)
		}
	} else {
		for _, inner := range cores {
			for _, e := range inner.Tables() {
				t.ensure(e.Source)
				r.targets = append(r.targets, e.Source)
			}
			for _, item := range inner.Select.Columns {
				for _, ref := range parser.Columns(item.Expr) {
					srcs, err := inner.Resolve(ref)
					if err != nil {
						return t.errorf(err, "cannot resolve column %s", format.Expr(ref))
					}
					for _, s := range srcs {
						if !s.Outer {
							r.uses = append(r.uses, use{source: s.Entry.Source, column: ref.Column})
						}
					}
				}
			}
		}
	}

	r.uses = append(r.uses, t.correlated(cores, c.Scope)...)
	return nil
}

// correlated returns the columns of scope's entries read from inside cores,
// at any depth.
func (t *tracer) correlated(cores []*lineage.Core, scope *parser.Scope) []use {
	var out []use
	for _, inner := range cores {
		for _, e := range coreExprs(inner.Select) {
			for _, ref := range parser.Columns(e) {
				srcs, err := inner.Resolve(ref)
				if err != nil {
					continue
				}
				for _, s := range srcs {
					if s.Outer && scope.Owns(s.Entry) {
						out = append(out, use{source: s.Entry.Source, column: ref.Column})
					}
				}
			}
			for _, stmt := range parser.Subqueries(e) {
				deeper, err := t.unit.Scopes(stmt, inner.Scope)
				if err != nil {
					continue
				}
				out = append(out, t.correlated(deeper, scope)...)
			}
		}
	}
	return out
}

// finish flattens the per-category fields of every record.
func (t *tracer) finish() []core.TableOperationRecord {
	out := make([]core.TableOperationRecord, len(t.records))
	for i, rec := range t.records {
		key := strings.ToLower(rec.SourceTable)
		seen := make(map[string]bool)
		fields := []string{}
		for _, cat := range core.Categories {
			for _, f := range t.fields[key][cat] {
				if !seen[strings.ToLower(f)] {
					seen[strings.ToLower(f)] = true
					fields = append(fields, f)
				}
			}
		}
		rec.SourceFields = fields
		out[i] = *rec
	}
	return out
}

func coreExprs(sel *parser.SelectCore) []parser.Expr {
	var exprs []parser.Expr
	for _, item := range sel.Columns {
		if item.Expr != nil {
			exprs = append(exprs, item.Expr)
		}
	}
	if sel.From != nil {
		for _, j := range sel.From.Joins {
			if j.Condition != nil {
				exprs = append(exprs, j.Condition)
			}
		}
	}
	for _, e := range []parser.Expr{sel.Where, sel.Having, sel.Qualify} {
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	exprs = append(exprs, sel.GroupBy...)
	for _, o := range sel.OrderBy {
		exprs = append(exprs, o.Expr)
	}
	return exprs
}

// ordinal replaces a positional reference (GROUP BY 1) with the select
// expression it names.
func ordinal(sel *parser.SelectCore, e parser.Expr) parser.Expr {
	lit, ok := e.(*parser.Literal)
	if !ok || lit.Type != parser.LiteralNumber {
		return e
	}
	n := 0
	for _, ch := range lit.Value {
		if ch < '0' || ch > '9' {
			return e
		}
		n = n*10 + int(ch-'0')
	}
	if n < 1 || n > len(sel.Columns) || sel.Columns[n-1].Expr == nil {
		return e
	}
	return sel.Columns[n-1].Expr
}

// outputAlias returns the expression of the select item aliased as ref, or
// nil. An alias that just renames the same column does not count.
func outputAlias(sel *parser.SelectCore, ref *parser.ColumnRef) parser.Expr {
	if ref.Table != "" {
		return nil
	}
	for _, item := range sel.Columns {
		if item.Expr == nil || !strings.EqualFold(item.Alias, ref.Column) {
			continue
		}
		if col, ok := item.Expr.(*parser.ColumnRef); ok && strings.EqualFold(col.Column, ref.Column) {
			return nil
		}
		return item.Expr
	}
	return nil
}

func containsAggregate(e parser.Expr) bool {
	found := false
	parser.Walk(e, func(n parser.Expr) bool {
		if fn, ok := n.(*parser.FuncCall); ok && fn.Window == nil && core.IsAggregate(fn.Name) {
			found = true
		}
		return !found
	})
	return found
}
