package core

import (
	"bytes"
	"encoding/json"
	"errors"
)

// OperatorCategory names one list of an Operators set.
type OperatorCategory string

// Operator categories, in the order they are reported.
const (
	CategoryFilters OperatorCategory = "filters"
	CategoryJoins   OperatorCategory = "joins"
	CategoryGroupBy OperatorCategory = "group_by"
	CategoryHaving  OperatorCategory = "having"
	CategoryOrderBy OperatorCategory = "order_by"
	CategoryOther   OperatorCategory = "other"
)

// Categories lists every operator category in report order.
var Categories = []OperatorCategory{
	CategoryFilters, CategoryJoins, CategoryGroupBy, CategoryHaving, CategoryOrderBy, CategoryOther,
}

// Operators holds the normalized predicates applied to one table.
// An absent category is omitted rather than empty.
type Operators struct {
	Filters []string `json:"filters,omitempty"`
	Joins   []string `json:"joins,omitempty"`
	GroupBy []string `json:"group_by,omitempty"`
	Having  []string `json:"having,omitempty"`
	OrderBy []string `json:"order_by,omitempty"`
	Other   []string `json:"other,omitempty"`
}

// Get returns the list for a category.
func (o *Operators) Get(c OperatorCategory) []string {
	switch c {
	case CategoryFilters:
		return o.Filters
	case CategoryJoins:
		return o.Joins
	case CategoryGroupBy:
		return o.GroupBy
	case CategoryHaving:
		return o.Having
	case CategoryOrderBy:
		return o.OrderBy
	case CategoryOther:
		return o.Other
	}
	return nil
}

// Add appends pred to a category unless it is already listed there.
func (o *Operators) Add(c OperatorCategory, pred string) {
	list := o.slot(c)
	if list == nil {
		return
	}
	for _, p := range *list {
		if p == pred {
			return
		}
	}
	*list = append(*list, pred)
}

func (o *Operators) slot(c OperatorCategory) *[]string {
	switch c {
	case CategoryFilters:
		return &o.Filters
	case CategoryJoins:
		return &o.Joins
	case CategoryGroupBy:
		return &o.GroupBy
	case CategoryHaving:
		return &o.Having
	case CategoryOrderBy:
		return &o.OrderBy
	case CategoryOther:
		return &o.Other
	}
	return nil
}

// Empty reports whether no category has entries.
func (o *Operators) Empty() bool {
	for _, c := range Categories {
		if len(o.Get(c)) > 0 {
			return false
		}
	}
	return true
}

// TableOperationRecord lists the operators a unit applies to one source.
type TableOperationRecord struct {
	// SourceTable is a base table or an earlier unit's name.
	SourceTable string `json:"source_table"`
	// SourceFields are the fields of SourceTable used inside some operator.
	SourceFields []string `json:"source_fields"`
	// Operators groups the normalized predicates by category.
	Operators Operators `json:"operators"`
}

// UnmarshalJSON also accepts operators under "logical_operators".
func (r *TableOperationRecord) UnmarshalJSON(data []byte) error {
	var w struct {
		SourceTable      string     `json:"source_table"`
		SourceFields     []string   `json:"source_fields"`
		Operators        *Operators `json:"operators"`
		LogicalOperators *Operators `json:"logical_operators"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.SourceTable = w.SourceTable
	r.SourceFields = w.SourceFields
	if r.SourceFields == nil {
		r.SourceFields = []string{}
	}
	r.Operators = Operators{}
	switch {
	case w.Operators != nil:
		r.Operators = *w.Operators
	case w.LogicalOperators != nil:
		r.Operators = *w.LogicalOperators
	}
	return nil
}

// DecodeOperationRecords decodes one unit's records from either a bare list
// or the {"output_fields": [...]} envelope.
func DecodeOperationRecords(data []byte) ([]TableOperationRecord, error) {
	var out []TableOperationRecord
	if err := decodeEnvelope(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeEnvelope(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			OutputFields json.RawMessage `json:"output_fields"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return err
		}
		if env.OutputFields == nil {
			return errors.New("expected a list or an object with output_fields")
		}
		trimmed = env.OutputFields
	}
	return json.Unmarshal(trimmed, v)
}
