// Package decompose splits a SQL script into logical units.
//
// Every CTE becomes one unit holding its whole query. Derived tables always
// become units, and subqueries in expression position (EXISTS, IN, scalar)
// become units unless they are a plain single-table scan. The top-level
// query becomes the main_query unit. Units are returned in dependency order
// with the main query last.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/sqllineage/internal/dag"
	"github.com/leapstack-labs/sqllineage/internal/lineage"
	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
)

// Subquery unit name prefixes, by the position the subquery was found in.
const (
	prefixFrom   = "subquery_from"
	prefixExists = "subquery_exists"
	prefixIn     = "subquery_in"
	prefixScalar = "subquery_scalar"
	prefixWhere  = "subquery_where"
)

// Config holds decomposer configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Decomposer is the Block Decomposer.
type Decomposer struct {
	logger *slog.Logger
}

// New creates a decomposer.
func New(cfg Config) *Decomposer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Decomposer{logger: logger}
}

// Decompose parses sql and returns its units in dependency order.
func (d *Decomposer) Decompose(ctx context.Context, sql string) (*core.Decomposition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sql) == "" {
		return nil, core.NewDecompositionError("", nil, "empty script")
	}

	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, core.NewDecompositionError("", err, "cannot parse script")
	}
	if stmt.Query == nil || stmt.Query.Body == nil {
		return nil, core.NewDecompositionError("", nil, "script holds no query")
	}

	b := newBuilder(sql)
	if err := b.query(stmt.Query, core.MainQueryName, nil); err != nil {
		return nil, err
	}
	b.add(core.LogicalUnit{
		Name: core.MainQueryName,
		SQL:  lineage.QueryText(stmt.Query, sql),
		Kind: core.UnitMainQuery,
	})

	units, err := b.sorted()
	if err != nil {
		return nil, err
	}

	out := &core.Decomposition{Units: units, Kind: core.StatementKind(stmt.Kind), Reads: b.reads()}
	if stmt.Target != nil {
		out.Target = stmt.Target.QualifiedName()
		out.TargetColumns = stmt.Columns
		out.Replace = stmt.Replace
	}

	d.logger.Debug("decomposed script",
		slog.Int("units", len(units)),
		slog.String("kind", string(out.Kind)),
		slog.String("target", out.Target))
	return out, nil
}

// withScope tracks the CTE names of one WITH clause while it is walked.
type withScope struct {
	recursive bool
	// names maps a folded CTE name to the unit name; defined flips to true
	// once the CTE's query has been walked.
	names   map[string]string
	defined map[string]bool
	current string
}

// frame holds the names a SELECT core's FROM clause makes visible.
type frame map[string]bool

type edge struct {
	from, to string
}

type builder struct {
	src    string
	units  []core.LogicalUnit
	index  map[string]int
	byText map[string]string
	withs  []*withScope
	edges  []edge
}

func newBuilder(src string) *builder {
	return &builder{
		src:    src,
		index:  make(map[string]int),
		byText: make(map[string]string),
	}
}

func (b *builder) add(u core.LogicalUnit) {
	b.index[strings.ToLower(u.Name)] = len(b.units)
	b.units = append(b.units, u)
	// A column list renames the outputs, so the text alone no longer
	// describes the unit.
	if u.Kind != core.UnitMainQuery && len(u.Columns) == 0 {
		b.byText[core.NormalizeSQL(u.SQL)] = u.Name
	}
}

func (b *builder) taken(name string) bool {
	_, ok := b.index[strings.ToLower(name)]
	return ok || strings.EqualFold(name, core.MainQueryName)
}

// depend records that owner reads from unit.
func (b *builder) depend(unit, owner string) {
	b.edges = append(b.edges, edge{from: unit, to: owner})
}

// query walks a query owned by owner. frames are the FROM names of the
// enclosing cores, innermost last.
func (b *builder) query(stmt *parser.SelectStmt, owner string, frames []frame) error {
	if stmt.With != nil {
		ws := &withScope{
			recursive: stmt.With.Recursive,
			names:     make(map[string]string, len(stmt.With.CTEs)),
			defined:   make(map[string]bool, len(stmt.With.CTEs)),
		}
		for _, cte := range stmt.With.CTEs {
			key := strings.ToLower(cte.Name)
			if _, dup := ws.names[key]; dup || b.taken(cte.Name) {
				return core.NewDecompositionError(cte.Name, nil, "CTE %q is defined more than once", cte.Name)
			}
			ws.names[key] = cte.Name
		}
		b.withs = append(b.withs, ws)
		defer func() { b.withs = b.withs[:len(b.withs)-1] }()

		for _, cte := range stmt.With.CTEs {
			if cte.Select == nil {
				return core.NewDecompositionError(cte.Name, nil, "CTE has no query")
			}
			b.add(core.LogicalUnit{
				Name:    cte.Name,
				SQL:     lineage.QueryText(cte.Select, b.src),
				Kind:    core.UnitCTE,
				Columns: cte.Columns,
			})
			ws.current = strings.ToLower(cte.Name)
			if err := b.query(cte.Select, cte.Name, nil); err != nil {
				return err
			}
			ws.defined[ws.current] = true
			ws.current = ""
		}
	}

	for _, sc := range stmt.Body.Cores() {
		if err := b.core(sc, owner, frames); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) core(sc *parser.SelectCore, owner string, frames []frame) error {
	local := make(frame)
	scope := append(append([]frame(nil), frames...), local)

	for _, ref := range sc.From.Tables() {
		switch t := ref.(type) {
		case *parser.TableName:
			if err := b.table(t, owner); err != nil {
				return err
			}
			local[strings.ToLower(t.EffectiveName())] = true
			if t.Alias == "" {
				local[strings.ToLower(t.QualifiedName())] = true
			}
		case *parser.DerivedTable:
			prefix := prefixFrom
			if t.Alias != "" {
				prefix = "subquery_" + strings.ToLower(t.Alias)
				local[strings.ToLower(t.Alias)] = true
			}
			if err := b.subquery(t.Select, prefix, owner, scope, false); err != nil {
				return err
			}
		}
	}

	check := func(e parser.Expr, prefix string) error {
		if e == nil {
			return nil
		}
		if err := b.qualifiers(e, owner, scope); err != nil {
			return err
		}
		return b.nested(e, prefix, owner, scope)
	}

	for _, item := range sc.Columns {
		if item.TableStar != "" && !visible(scope, item.TableStar) {
			return core.NewDecompositionError(owner, nil, "%s.* references unknown table %q", item.TableStar, item.TableStar)
		}
		if err := check(item.Expr, prefixScalar); err != nil {
			return err
		}
	}
	if sc.From != nil {
		for _, j := range sc.From.Joins {
			if err := check(j.Condition, prefixWhere); err != nil {
				return err
			}
		}
	}
	exprs := []parser.Expr{sc.Where}
	exprs = append(exprs, sc.GroupBy...)
	exprs = append(exprs, sc.Having, sc.Qualify)
	for _, o := range sc.OrderBy {
		exprs = append(exprs, o.Expr)
	}
	exprs = append(exprs, sc.Limit, sc.Offset)
	for _, e := range exprs {
		if err := check(e, prefixWhere); err != nil {
			return err
		}
	}
	return nil
}

// table resolves a FROM table name against the CTEs in scope.
func (b *builder) table(t *parser.TableName, owner string) error {
	if t.Schema != "" || t.Catalog != "" {
		return nil
	}
	key := strings.ToLower(t.Name)
	for i := len(b.withs) - 1; i >= 0; i-- {
		ws := b.withs[i]
		name, ok := ws.names[key]
		if !ok {
			continue
		}
		switch {
		case ws.defined[key]:
			b.depend(name, owner)
		case ws.current == key:
			if !ws.recursive {
				return core.NewDecompositionError(owner, nil, "CTE %q references itself without RECURSIVE", name)
			}
		case ws.recursive:
			b.depend(name, owner)
		default:
			return core.NewDecompositionError(owner, nil, "references %q before it is defined", name)
		}
		return nil
	}
	return nil
}

// nested turns the subqueries of an expression into units. prefix names the
// position; EXISTS and IN override it.
func (b *builder) nested(e parser.Expr, prefix, owner string, scope []frame) error {
	var err error
	parser.Walk(e, func(n parser.Expr) bool {
		if err != nil {
			return false
		}
		switch x := n.(type) {
		case *parser.ExistsExpr:
			err = b.subquery(x.Select, prefixExists, owner, scope, true)
		case *parser.InExpr:
			if x.Query != nil {
				err = b.subquery(x.Query, prefixIn, owner, scope, true)
			}
		case *parser.SubqueryExpr:
			err = b.subquery(x.Select, prefix, owner, scope, true)
		}
		return true
	})
	return err
}

// subquery makes a unit of a nested query, reusing an existing unit with the
// same text. Trivial subqueries in expression position are walked as part of
// owner.
func (b *builder) subquery(stmt *parser.SelectStmt, prefix, owner string, scope []frame, inExpr bool) error {
	if stmt == nil || stmt.Body == nil {
		return core.NewDecompositionError(owner, nil, "empty subquery")
	}
	if inExpr && lineage.IsTrivial(stmt) {
		return b.query(stmt, owner, scope)
	}

	text := lineage.QueryText(stmt, b.src)
	if name, ok := b.byText[core.NormalizeSQL(text)]; ok {
		b.depend(name, owner)
		return nil
	}

	name := prefix
	for n := 2; b.taken(name); n++ {
		name = fmt.Sprintf("%s_%d", prefix, n)
	}
	b.add(core.LogicalUnit{Name: name, SQL: text, Kind: core.UnitSubquery})
	b.depend(name, owner)
	return b.query(stmt, name, scope)
}

// qualifiers checks that every qualified column names a visible table.
func (b *builder) qualifiers(e parser.Expr, owner string, scope []frame) error {
	for _, col := range parser.Columns(e) {
		if col.Table != "" && !visible(scope, col.Table) {
			return core.NewDecompositionError(owner, nil, "column %s.%s references unknown table %q", col.Table, col.Column, col.Table)
		}
	}
	return nil
}

func visible(scope []frame, name string) bool {
	key := strings.ToLower(name)
	for i := len(scope) - 1; i >= 0; i-- {
		if scope[i][key] {
			return true
		}
	}
	return false
}

// reads groups the recorded dependencies by the reading unit.
func (b *builder) reads() map[string][]string {
	out := make(map[string][]string, len(b.units))
	for _, u := range b.units {
		out[u.Name] = []string{}
	}
	for _, e := range b.edges {
		if e.from == e.to || slices.Contains(out[e.to], e.from) {
			continue
		}
		out[e.to] = append(out[e.to], e.from)
	}
	return out
}

// sorted orders the units so every unit follows the units it reads from.
func (b *builder) sorted() (core.Units, error) {
	g := dag.NewGraph()
	for _, u := range b.units {
		g.AddNode(u.Name, u)
	}
	for _, e := range b.edges {
		if e.from == e.to {
			continue
		}
		if err := g.AddEdge(e.from, e.to); err != nil {
			return nil, core.NewDecompositionError(e.to, err, "cannot link units")
		}
	}

	nodes, err := g.TopologicalSort()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, core.NewDecompositionError("", err, "units reference each other")
		}
		return nil, core.NewDecompositionError("", err, "cannot order units")
	}

	units := make(core.Units, len(nodes))
	for i, n := range nodes {
		u := n.Data.(core.LogicalUnit)
		u.ID = core.UnitID(i)
		units[i] = u
	}
	return units, nil
}

// BuildCatalog returns a catalog over the units of d with their reads and
// the output columns of every unit filled in. Units whose columns cannot be
// named (an unexpanded star, a parse failure) are left unknown; the per-unit
// stages report those.
func BuildCatalog(d *core.Decomposition, schema core.Schema) *core.Catalog {
	cat := core.NewCatalog(d.Units, schema)
	for unit, names := range d.Reads {
		cat.SetReads(unit, names)
	}
	for _, u := range d.Units {
		cols, err := lineage.ColumnNames(u, cat)
		if err != nil || cols == nil {
			continue
		}
		cat.SetColumns(u.Name, cols)
	}
	return cat
}
