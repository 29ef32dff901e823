package core

import "strings"

// Column describes one column of a known base table.
type Column struct {
	Name        string `json:"name" yaml:"name" koanf:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty" koanf:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" koanf:"description"`
}

// Schema maps base table names to their columns.
type Schema map[string][]Column

// Lookup finds a table by name, ignoring case.
func (s Schema) Lookup(table string) ([]Column, bool) {
	if cols, ok := s[table]; ok {
		return cols, true
	}
	for name, cols := range s {
		if strings.EqualFold(name, table) {
			return cols, true
		}
	}
	return nil, false
}

// Catalog is what the per-unit stages know about the rest of the script:
// which names are units, the output columns of each unit, and configured
// base table schemas.
type Catalog struct {
	units   map[string]LogicalUnit
	order   map[string]int
	columns map[string][]string
	bySQL   map[string][]string
	reads   map[string]map[string]bool
	// Schema holds configured base table columns. May be nil.
	Schema Schema
}

// NewCatalog creates a catalog over units, which must be in dependency order.
func NewCatalog(units Units, schema Schema) *Catalog {
	c := &Catalog{
		units:   make(map[string]LogicalUnit, len(units)),
		order:   make(map[string]int, len(units)),
		columns: make(map[string][]string, len(units)),
		bySQL:   make(map[string][]string, len(units)),
		reads:   make(map[string]map[string]bool),
		Schema:  schema,
	}
	for i, u := range units {
		key := strings.ToLower(u.Name)
		c.units[key] = u
		c.order[key] = i
		if u.Kind != UnitMainQuery && len(u.Columns) == 0 {
			norm := NormalizeSQL(u.SQL)
			c.bySQL[norm] = append(c.bySQL[norm], u.Name)
		}
	}
	return c
}

// SetReads records the units a unit reads from. Without it, any earlier
// unit may match the unit's nested queries.
func (c *Catalog) SetReads(unit string, names []string) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	c.reads[strings.ToLower(unit)] = set
}

// Unit returns the unit with the given name.
func (c *Catalog) Unit(name string) (LogicalUnit, bool) {
	u, ok := c.units[strings.ToLower(name)]
	return u, ok
}

// IsUnit reports whether name is a unit of the script.
func (c *Catalog) IsUnit(name string) bool {
	_, ok := c.units[strings.ToLower(name)]
	return ok
}

// SetColumns records the output columns of a unit. A nil slice means unknown.
func (c *Catalog) SetColumns(unit string, cols []string) {
	c.columns[strings.ToLower(unit)] = cols
}

// Columns returns the known columns of a unit or base table. The second
// result is false when the column list is unknown.
func (c *Catalog) Columns(name string) ([]string, bool) {
	if c.IsUnit(name) {
		cols := c.columns[strings.ToLower(name)]
		return cols, cols != nil
	}
	if cols, ok := c.Schema.Lookup(name); ok {
		names := make([]string, len(cols))
		for i, col := range cols {
			names[i] = col.Name
		}
		return names, true
	}
	return nil, false
}

// UnitForSQL returns the unit materializing a query nested in owner, matched
// on text while ignoring layout. Only units ordered before owner, and read by
// owner when its reads are known, can match; the latest of those wins.
func (c *Catalog) UnitForSQL(owner, sql string) (string, bool) {
	key := strings.ToLower(owner)
	pos, placed := c.order[key]
	reads, known := c.reads[key]
	candidates := c.bySQL[NormalizeSQL(sql)]
	for i := len(candidates) - 1; i >= 0; i-- {
		name := strings.ToLower(candidates[i])
		if placed && c.order[name] >= pos {
			continue
		}
		if known && !reads[name] {
			continue
		}
		return candidates[i], true
	}
	return "", false
}

// NormalizeSQL collapses whitespace runs and drops a trailing semicolon.
// Quoted text is kept verbatim.
func NormalizeSQL(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	var quote byte
	space := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if quote != 0 {
			b.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case ' ', '\t', '\n', '\r', '\f':
			space = true
			continue
		case '\'', '"', '`':
			quote = ch
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteByte(ch)
	}
	return strings.TrimSuffix(strings.TrimSpace(b.String()), ";")
}
