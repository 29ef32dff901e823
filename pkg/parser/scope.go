package parser

import (
	"fmt"
	"strings"
)

// ScopeType indicates the type of scope entry.
type ScopeType int

const (
	// ScopeTable represents a physical table.
	ScopeTable ScopeType = iota
	// ScopeUnit represents a named query defined elsewhere in the script (a CTE).
	ScopeUnit
	// ScopeDerived represents a derived table (subquery in FROM).
	ScopeDerived
)

// ScopeEntry represents a table, CTE or derived table in scope.
type ScopeEntry struct {
	Type    ScopeType
	Name    string   // table, CTE or derived-table name as written
	Alias   string   // alias (if any)
	Source  string   // lineage name: qualified table name or unit name
	Columns []string // known columns, nil when unknown
	Query   *SelectStmt
}

// EffectiveName returns the name used to reference this entry (alias if present, else name).
func (e *ScopeEntry) EffectiveName() string {
	if e.Alias != "" {
		return e.Alias
	}
	return e.Name
}

// HasColumn reports whether the entry is known to expose the column.
func (e *ScopeEntry) HasColumn(col string) bool {
	for _, c := range e.Columns {
		if strings.EqualFold(c, col) {
			return true
		}
	}
	return false
}

// Scope tracks the tables, CTEs and derived tables visible within one
// SELECT core, in FROM order.
type Scope struct {
	parent  *Scope
	entries map[string]*ScopeEntry // normalized name/alias -> entry
	order   []*ScopeEntry
}

// NewScope creates a new root scope.
func NewScope() *Scope {
	return &Scope{entries: make(map[string]*ScopeEntry)}
}

// Child creates a child scope for nested queries (subqueries, derived tables).
func (s *Scope) Child() *Scope {
	c := NewScope()
	c.parent = s
	return c
}

// Parent returns the enclosing scope, or nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// normalize folds an identifier for case-insensitive lookup.
func normalize(name string) string {
	return strings.ToLower(name)
}

// Register adds an entry under its effective name. Tables without an alias
// are also reachable by their qualified name (schema.table).
func (s *Scope) Register(entry *ScopeEntry) error {
	key := normalize(entry.EffectiveName())
	if _, dup := s.entries[key]; dup {
		return &ResolutionError{Message: fmt.Sprintf(ErrDuplicateAlias, entry.EffectiveName())}
	}
	s.entries[key] = entry
	if entry.Alias == "" && entry.Source != "" && !strings.EqualFold(entry.Source, entry.Name) {
		if _, taken := s.entries[normalize(entry.Source)]; !taken {
			s.entries[normalize(entry.Source)] = entry
		}
	}
	s.order = append(s.order, entry)
	return nil
}

// Entries returns the entries of this scope (not including parents) in FROM order.
func (s *Scope) Entries() []*ScopeEntry {
	return s.order
}

// Owns reports whether the entry was registered in this scope rather than an enclosing one.
func (s *Scope) Owns(entry *ScopeEntry) bool {
	for _, e := range s.order {
		if e == entry {
			return true
		}
	}
	return false
}

// Lookup finds a scope entry by name (table name or alias).
// Searches current scope first, then parent scopes.
func (s *Scope) Lookup(name string) (*ScopeEntry, bool) {
	if entry, ok := s.entries[normalize(name)]; ok {
		return entry, true
	}
	if s.parent != nil {
		return s.parent.Lookup(name)
	}
	return nil, false
}

// ResolveColumn attempts to resolve a column reference to the entry that provides it.
//
// Qualified references are looked up by qualifier. Unqualified references
// resolve to the single local entry known to expose the column, then to the
// single local entry with unknown columns, then to enclosing scopes.
func (s *Scope) ResolveColumn(ref *ColumnRef) (*ScopeEntry, error) {
	if ref.Table != "" {
		if entry, ok := s.Lookup(ref.Table); ok {
			return entry, nil
		}
		return nil, &ResolutionError{Message: fmt.Sprintf(ErrUnknownTable, ref.Table)}
	}

	var known, unknown []*ScopeEntry
	for _, entry := range s.order {
		switch {
		case entry.HasColumn(ref.Column):
			known = append(known, entry)
		case entry.Columns == nil:
			unknown = append(unknown, entry)
		}
	}

	switch {
	case len(known) == 1:
		return known[0], nil
	case len(known) > 1:
		return nil, &ResolutionError{Message: fmt.Sprintf(ErrAmbiguousColumn, ref.Column)}
	case len(unknown) == 1:
		return unknown[0], nil
	}

	if s.parent != nil {
		if entry, err := s.parent.ResolveColumn(ref); err == nil {
			return entry, nil
		}
	}

	if len(unknown) > 1 {
		return nil, &ResolutionError{Message: fmt.Sprintf(ErrAmbiguousColumn, ref.Column)}
	}
	return nil, &ResolutionError{Message: fmt.Sprintf(ErrUnknownColumn, ref.Column)}
}

// ExpandStar expands * (table == "") or table.* to qualified column references.
// The second result is false when any entry involved has unknown columns.
func (s *Scope) ExpandStar(table string) ([]*ColumnRef, bool) {
	var entries []*ScopeEntry
	if table != "" {
		entry, ok := s.Lookup(table)
		if !ok {
			return nil, false
		}
		entries = []*ScopeEntry{entry}
	} else {
		entries = s.order
	}

	var refs []*ColumnRef
	for _, entry := range entries {
		if entry.Columns == nil {
			return nil, false
		}
		for _, col := range entry.Columns {
			refs = append(refs, &ColumnRef{Table: entry.EffectiveName(), Column: col})
		}
	}
	return refs, true
}
