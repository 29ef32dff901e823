package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MainQueryName is the name of the unit holding the top-level statement.
const MainQueryName = "main_query"

// UnitKind classifies a logical unit.
type UnitKind string

// Unit kinds.
const (
	UnitCTE       UnitKind = "cte"
	UnitSubquery  UnitKind = "subquery"
	UnitMainQuery UnitKind = "main_query"
)

// LogicalUnit is one independently analyzable SQL block.
type LogicalUnit struct {
	// ID is unique within a script ("sp1", "sp2", ...).
	ID string `json:"id"`
	// Name is the CTE name, a generated subquery name, or MainQueryName.
	Name string `json:"name"`
	// SQL is the executable text of the block.
	SQL string `json:"sql"`
	// Kind tells CTEs, subqueries and the main query apart.
	Kind UnitKind `json:"kind"`
	// Columns renames the unit's outputs positionally (CTE column list).
	Columns []string `json:"columns,omitempty"`
}

// Units is an ordered unit sequence. Its JSON form is the "sp" map used at
// the stage boundary: {"sp1": {"name": ..., "sql": ...}, ...}.
type Units []LogicalUnit

type wireUnit struct {
	Name    string   `json:"name"`
	SQL     string   `json:"sql"`
	Kind    UnitKind `json:"kind,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// Names returns unit names in order.
func (u Units) Names() []string {
	names := make([]string, len(u))
	for i, unit := range u {
		names[i] = unit.Name
	}
	return names
}

// Find returns the unit with the given name.
func (u Units) Find(name string) (LogicalUnit, bool) {
	for _, unit := range u {
		if strings.EqualFold(unit.Name, name) {
			return unit, true
		}
	}
	return LogicalUnit{}, false
}

// MarshalJSON writes the units as an object whose keys keep unit order.
func (u Units) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, unit := range u {
		if i > 0 {
			buf.WriteByte(',')
		}
		id := unit.ID
		if id == "" {
			id = UnitID(i)
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(wireUnit{Name: unit.Name, SQL: unit.SQL, Kind: unit.Kind, Columns: unit.Columns})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the "sp" map. Keys are ordered by their numeric suffix;
// a missing kind is inferred from the unit name.
func (u *Units) UnmarshalJSON(data []byte) error {
	var raw map[string]wireUnit
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, iok := unitOrdinal(keys[i])
		nj, jok := unitOrdinal(keys[j])
		if iok && jok && ni != nj {
			return ni < nj
		}
		if iok != jok {
			return iok
		}
		return keys[i] < keys[j]
	})

	out := make(Units, 0, len(keys))
	for _, k := range keys {
		w := raw[k]
		kind := w.Kind
		if kind == "" {
			kind = InferUnitKind(w.Name)
		}
		out = append(out, LogicalUnit{ID: k, Name: w.Name, SQL: w.SQL, Kind: kind, Columns: w.Columns})
	}
	*u = out
	return nil
}

// UnitID returns the stage-boundary id for the unit at index i.
func UnitID(i int) string {
	return fmt.Sprintf("sp%d", i+1)
}

// InferUnitKind guesses the kind of a unit decoded without one.
func InferUnitKind(name string) UnitKind {
	lower := strings.ToLower(name)
	switch {
	case lower == MainQueryName:
		return UnitMainQuery
	case strings.HasPrefix(lower, "subquery"):
		return UnitSubquery
	default:
		return UnitCTE
	}
}

func unitOrdinal(key string) (int, bool) {
	digits := strings.TrimLeft(key, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_")
	if digits == "" || digits == key {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// StatementKind describes what the top-level statement does with its query.
type StatementKind string

// Statement kinds.
const (
	StatementSelect      StatementKind = "select"
	StatementInsert      StatementKind = "insert"
	StatementCreateTable StatementKind = "create_table"
	StatementCreateView  StatementKind = "create_view"
)

// JobType returns the jobType facet value for the statement kind.
func (k StatementKind) JobType() string {
	switch k {
	case StatementInsert:
		return "sql_insert_select"
	case StatementCreateTable:
		return "sql_create_table_as"
	case StatementCreateView:
		return "sql_create_view_as"
	default:
		return "sql_select"
	}
}

// Decomposition is the Block Decomposer's result.
type Decomposition struct {
	// Units in dependency order, main query last.
	Units Units `json:"units"`
	// Kind of the top-level statement.
	Kind StatementKind `json:"kind"`
	// Target is the written table for INSERT/CREATE statements.
	Target string `json:"target,omitempty"`
	// TargetColumns is the INSERT column list, if any.
	TargetColumns []string `json:"target_columns,omitempty"`
	// Replace is set for CREATE OR REPLACE.
	Replace bool `json:"replace,omitempty"`
	// Reads maps a unit name to the units it reads from. Nil when the units
	// were produced elsewhere.
	Reads map[string][]string `json:"-"`
}

// Main returns the main query unit.
func (d *Decomposition) Main() (LogicalUnit, bool) {
	if len(d.Units) == 0 {
		return LogicalUnit{}, false
	}
	last := d.Units[len(d.Units)-1]
	return last, last.Kind == UnitMainQuery
}
