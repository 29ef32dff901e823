package lineage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/core"
	"github.com/leapstack-labs/sqllineage/pkg/format"
	"github.com/leapstack-labs/sqllineage/pkg/parser"
)

// Unit is a parsed logical unit with its scopes resolved.
type Unit struct {
	Unit    core.LogicalUnit
	Stmt    *parser.SelectStmt
	Cores   []*Core
	catalog *core.Catalog
}

// Core is one SELECT core of a unit (several for set operations).
type Core struct {
	Select *parser.SelectCore
	Scope  *parser.Scope
	using  map[string][]*parser.ScopeEntry
}

// Source is one column a reference reads from.
type Source struct {
	Entry  *parser.ScopeEntry
	Column string
	// Outer is true when the entry belongs to an enclosing query.
	Outer bool
}

// Ref returns the stage-boundary reference for the source.
func (s Source) Ref() core.ColumnRef {
	return core.ColumnRef{Table: s.Entry.Source, Column: s.Column}
}

// Output is one projected column of a core.
type Output struct {
	Name string
	Expr parser.Expr
	// Star is set for a * or t.* whose columns are unknown; Expr is nil and
	// Qualifier holds the t of t.*.
	Star      bool
	Qualifier string
	// Position of the SELECT item the output came from, 1-based.
	Position int
}

// Load parses a unit and builds the scope of each SELECT core.
func Load(unit core.LogicalUnit, catalog *core.Catalog) (*Unit, error) {
	stmt, err := parser.ParseSelect(unit.SQL)
	if err != nil {
		return nil, err
	}
	u := &Unit{Unit: unit, Stmt: stmt, catalog: catalog}
	cores, err := u.Scopes(stmt, nil)
	if err != nil {
		return nil, err
	}
	u.Cores = cores
	return u, nil
}

// Catalog returns the catalog the unit was loaded against.
func (u *Unit) Catalog() *core.Catalog {
	return u.catalog
}

// Text returns the unit text of a query nested in this unit.
func (u *Unit) Text(stmt *parser.SelectStmt) string {
	return QueryText(stmt, u.Unit.SQL)
}

// QueryText returns the executable text of a query as a unit holds it. CTEs
// of a nested WITH become units of their own, so a query with a WITH clause
// is cut down to its body.
func QueryText(stmt *parser.SelectStmt, src string) string {
	if stmt.With != nil && stmt.Body != nil {
		return stmt.Body.Text(src)
	}
	return stmt.Text(src)
}

// SubqueryUnit returns the unit materializing a derived table of this unit.
func (u *Unit) SubqueryUnit(stmt *parser.SelectStmt) (string, bool) {
	return u.catalog.UnitForSQL(u.Unit.Name, u.Text(stmt))
}

// NestedUnit returns the unit materializing a query in expression position
// (EXISTS, IN, scalar). Trivial queries stay inline and never match a unit,
// even one with the same text.
func (u *Unit) NestedUnit(stmt *parser.SelectStmt) (string, bool) {
	if IsTrivial(stmt) {
		return "", false
	}
	return u.SubqueryUnit(stmt)
}

// Scopes builds one scope per core of stmt. parent is the scope of the
// enclosing query for nested queries, nil otherwise.
func (u *Unit) Scopes(stmt *parser.SelectStmt, parent *parser.Scope) ([]*Core, error) {
	if stmt == nil || stmt.Body == nil {
		return nil, fmt.Errorf("empty query")
	}
	var cores []*Core
	for _, sc := range stmt.Body.Cores() {
		scope := parser.NewScope()
		if parent != nil {
			scope = parent.Child()
		}
		c := &Core{Select: sc, Scope: scope, using: make(map[string][]*parser.ScopeEntry)}
		if sc.From != nil {
			left, err := u.register(c, sc.From.Source)
			if err != nil {
				return nil, err
			}
			entries := []*parser.ScopeEntry{left}
			for _, join := range sc.From.Joins {
				right, err := u.register(c, join.Right)
				if err != nil {
					return nil, err
				}
				for _, col := range join.Using {
					key := strings.ToLower(col)
					if _, seen := c.using[key]; !seen {
						c.using[key] = append(c.using[key], usingSide(entries, col))
					}
					c.using[key] = append(c.using[key], right)
				}
				entries = append(entries, right)
			}
		}
		cores = append(cores, c)
	}
	return cores, nil
}

// usingSide picks the left-hand entry a USING column comes from: the last
// entry known to have it, else the entry just before the join.
func usingSide(entries []*parser.ScopeEntry, col string) *parser.ScopeEntry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].HasColumn(col) {
			return entries[i]
		}
	}
	return entries[len(entries)-1]
}

func (u *Unit) register(c *Core, ref parser.TableRef) (*parser.ScopeEntry, error) {
	var entry *parser.ScopeEntry
	switch t := ref.(type) {
	case *parser.TableName:
		entry = u.tableEntry(t)
	case *parser.DerivedTable:
		name, ok := u.SubqueryUnit(t.Select)
		if !ok {
			return nil, fmt.Errorf("derived table %s does not match any unit", derivedLabel(t))
		}
		cols, _ := u.catalog.Columns(name)
		alias := t.Alias
		if alias == "" {
			alias = name
		}
		entry = &parser.ScopeEntry{
			Type:    parser.ScopeDerived,
			Name:    alias,
			Source:  name,
			Columns: cols,
			Query:   t.Select,
		}
	default:
		return nil, fmt.Errorf("unsupported table reference %T", ref)
	}
	if err := c.Scope.Register(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func derivedLabel(t *parser.DerivedTable) string {
	if t.Alias != "" {
		return strconv.Quote(t.Alias)
	}
	return "(unaliased)"
}

func (u *Unit) tableEntry(t *parser.TableName) *parser.ScopeEntry {
	if t.Schema == "" && t.Catalog == "" {
		if unit, ok := u.catalog.Unit(t.Name); ok {
			cols, _ := u.catalog.Columns(unit.Name)
			return &parser.ScopeEntry{
				Type:    parser.ScopeUnit,
				Name:    t.Name,
				Alias:   t.Alias,
				Source:  unit.Name,
				Columns: cols,
			}
		}
	}
	qualified := t.QualifiedName()
	cols, ok := u.catalog.Columns(qualified)
	if !ok {
		cols, _ = u.catalog.Columns(t.Name)
	}
	return &parser.ScopeEntry{
		Type:    parser.ScopeTable,
		Name:    t.Name,
		Alias:   t.Alias,
		Source:  qualified,
		Columns: cols,
	}
}

// Tables returns the entries of the core's FROM clause in source order.
func (c *Core) Tables() []*parser.ScopeEntry {
	return c.Scope.Entries()
}

// Resolve maps a column reference to the columns it reads. A USING column
// reads from every joined side; anything else reads from exactly one entry.
func (c *Core) Resolve(ref *parser.ColumnRef) ([]Source, error) {
	if ref.Table == "" {
		if entries, ok := c.using[strings.ToLower(ref.Column)]; ok {
			out := make([]Source, len(entries))
			for i, e := range entries {
				out[i] = Source{Entry: e, Column: ref.Column}
			}
			return out, nil
		}
	}
	entry, err := c.Scope.ResolveColumn(ref)
	if err != nil {
		return nil, err
	}
	return []Source{{Entry: entry, Column: ref.Column, Outer: !c.Scope.Owns(entry)}}, nil
}

// Outputs lists the projected columns of a core with unique names. Stars
// over entries with known columns are expanded.
func (u *Unit) Outputs(c *Core) ([]Output, error) {
	var outputs []Output
	for i, item := range c.Select.Columns {
		pos := i + 1
		switch {
		case item.Star || item.TableStar != "":
			refs, ok := c.Scope.ExpandStar(item.TableStar)
			if !ok {
				if item.TableStar != "" {
					if _, found := c.Scope.Lookup(item.TableStar); !found {
						return nil, &parser.ResolutionError{Message: fmt.Sprintf(parser.ErrUnknownTable, item.TableStar)}
					}
				}
				name := "*"
				if item.TableStar != "" {
					name = item.TableStar + ".*"
				}
				outputs = append(outputs, Output{Name: name, Star: true, Qualifier: item.TableStar, Position: pos})
				continue
			}
			for _, ref := range refs {
				outputs = append(outputs, Output{Name: ref.Column, Expr: ref, Position: pos})
			}
		default:
			outputs = append(outputs, Output{Name: OutputName(item), Expr: item.Expr, Position: pos})
		}
	}

	if declared := u.Unit.Columns; len(declared) > 0 && c == u.Cores[0] {
		if len(declared) != len(outputs) {
			return nil, fmt.Errorf("unit %s declares %d columns but selects %d", u.Unit.Name, len(declared), len(outputs))
		}
		for i := range outputs {
			outputs[i].Name = declared[i]
		}
	}

	seen := make(map[string]int, len(outputs))
	for i := range outputs {
		key := strings.ToLower(outputs[i].Name)
		seen[key]++
		if n := seen[key]; n > 1 {
			outputs[i].Name = fmt.Sprintf("%s_%d", outputs[i].Name, n)
		}
	}
	return outputs, nil
}

// OutputName returns the name a SELECT item produces: its alias, the column
// name of a plain reference, or the canonical expression text.
func OutputName(item parser.SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch e := item.Expr.(type) {
	case *parser.ColumnRef:
		return e.Column
	case *parser.ParenExpr:
		return OutputName(parser.SelectItem{Expr: e.Expr})
	}
	return format.Expr(item.Expr)
}

// ColumnNames returns the output column names of a unit, or nil when a star
// with unknown columns makes them unknowable.
func ColumnNames(unit core.LogicalUnit, catalog *core.Catalog) ([]string, error) {
	u, err := Load(unit, catalog)
	if err != nil {
		return nil, err
	}
	outputs, err := u.Outputs(u.Cores[0])
	if err != nil {
		return nil, err
	}
	names := make([]string, len(outputs))
	for i, o := range outputs {
		if o.Star {
			return nil, nil
		}
		names[i] = o.Name
	}
	return names, nil
}

// IsTrivial reports whether a nested query is a plain single-table scan that
// does not need its own unit: no WITH, no set operation, one unaliased base
// table, plain columns only and no filtering, grouping, ordering or limits.
func IsTrivial(stmt *parser.SelectStmt) bool {
	if stmt == nil || stmt.With != nil || stmt.Body == nil || stmt.Body.Right != nil {
		return false
	}
	sc := stmt.Body.Left
	if sc == nil || sc.Distinct || sc.From == nil || len(sc.From.Joins) > 0 {
		return false
	}
	if sc.Where != nil || len(sc.GroupBy) > 0 || sc.GroupByAll || sc.Having != nil ||
		sc.Qualify != nil || len(sc.OrderBy) > 0 || sc.Limit != nil || sc.Offset != nil || len(sc.Windows) > 0 {
		return false
	}
	if t, ok := sc.From.Source.(*parser.TableName); !ok || t.Alias != "" {
		return false
	}
	for _, item := range sc.Columns {
		if item.Star || item.TableStar != "" {
			return false
		}
		if _, ok := item.Expr.(*parser.ColumnRef); !ok {
			return false
		}
	}
	return true
}
