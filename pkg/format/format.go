// Package format renders parsed SQL as canonical single-line text.
//
// Canonical text is used wherever two occurrences of the same predicate or
// expression must compare byte-identical: keywords and function names are
// upper-cased, operators are surrounded by single spaces, literals are
// re-quoted and whitespace and comments from the source are dropped.
package format

import (
	"github.com/leapstack-labs/sqllineage/pkg/parser"
)

// Options customizes rendering.
type Options struct {
	// Column, when set, renders column references of the outermost query.
	// References inside subqueries are always printed as written.
	Column func(ref *parser.ColumnRef) string
}

// Expr renders an expression in canonical form.
func Expr(e parser.Expr) string {
	return ExprWith(e, Options{})
}

// ExprWith renders an expression in canonical form using opts.
func ExprWith(e parser.Expr, opts Options) string {
	p := newPrinter(opts)
	p.formatExpr(e)
	return p.String()
}

// Select renders a query in canonical form.
func Select(stmt *parser.SelectStmt) string {
	p := newPrinter(Options{})
	p.formatSelectStmt(stmt)
	return p.String()
}

// OrderByItem renders one ORDER BY item including its direction.
func OrderByItem(item parser.OrderByItem, opts Options) string {
	p := newPrinter(opts)
	p.formatOrderByItem(item)
	return p.String()
}

// UsingClause renders a JOIN ... USING column list.
func UsingClause(cols []string) string {
	p := newPrinter(Options{})
	p.write("USING (")
	p.formatList(len(cols), func(i int) { p.ident(cols[i]) }, ", ")
	p.write(")")
	return p.String()
}
