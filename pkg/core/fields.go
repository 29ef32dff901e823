package core

import (
	"encoding/json"
	"strings"
)

// ColumnRef names a column of a unit or a base table.
type ColumnRef struct {
	Table  string `json:"unit_or_table"`
	Column string `json:"column"`
}

// String renders the reference as table.column.
func (c ColumnRef) String() string {
	if c.Table == "" {
		return c.Column
	}
	return c.Table + "." + c.Column
}

// ParseColumnRef splits "schema.table.column" at the last dot.
func ParseColumnRef(s string) ColumnRef {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return ColumnRef{Table: s[:i], Column: s[i+1:]}
	}
	return ColumnRef{Column: s}
}

// TransformKind is the machine-readable class of a transformation.
type TransformKind string

// Transform kinds.
const (
	TransformDirect      TransformKind = "direct"
	TransformGroupKey    TransformKind = "group_key"
	TransformExpression  TransformKind = "expression"
	TransformAggregation TransformKind = "aggregation"
	TransformWindow      TransformKind = "window"
	TransformConditional TransformKind = "conditional"
	TransformCast        TransformKind = "cast"
	TransformLiteral     TransformKind = "literal"
	TransformSubquery    TransformKind = "subquery"
)

// Trivial reports whether the transformation copies values unchanged.
func (k TransformKind) Trivial() bool {
	return k == TransformDirect || k == TransformGroupKey
}

// OutputFieldMapping describes how one output column of a unit is produced.
type OutputFieldMapping struct {
	// Name of the output column, unique within the unit.
	Name string `json:"name"`
	// Sources lists every column feeding the output, in first-seen order.
	Sources []ColumnRef `json:"sources"`
	// Transformation is a free-text description of the logic applied.
	Transformation string `json:"transformation"`
	// Kind classifies Transformation. Not serialized.
	Kind TransformKind `json:"-"`
}

// EffectiveKind returns Kind, classifying the description when it is unset.
func (m OutputFieldMapping) EffectiveKind() TransformKind {
	if m.Kind != "" {
		return m.Kind
	}
	return ClassifyTransformation(m.Transformation)
}

// UnmarshalJSON accepts the list form of sources as well as the
// comma-separated "source" string emitted by prompt-backed analyzers.
func (m *OutputFieldMapping) UnmarshalJSON(data []byte) error {
	var w struct {
		Name           string      `json:"name"`
		Sources        []ColumnRef `json:"sources"`
		Source         string      `json:"source"`
		Transformation string      `json:"transformation"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Name = w.Name
	m.Sources = w.Sources
	m.Transformation = w.Transformation
	if len(m.Sources) == 0 && w.Source != "" {
		for _, part := range strings.Split(w.Source, ",") {
			if part = strings.TrimSpace(part); part != "" {
				m.Sources = append(m.Sources, ParseColumnRef(part))
			}
		}
	}
	if m.Sources == nil {
		m.Sources = []ColumnRef{}
	}
	m.Kind = ClassifyTransformation(m.Transformation)
	return nil
}

// DecodeFieldMappings decodes one unit's mappings from either a bare list or
// the {"output_fields": [...]} envelope.
func DecodeFieldMappings(data []byte) ([]OutputFieldMapping, error) {
	var out []OutputFieldMapping
	if err := decodeEnvelope(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddSource appends ref unless an equal reference is already present.
func (m *OutputFieldMapping) AddSource(ref ColumnRef) {
	for _, s := range m.Sources {
		if strings.EqualFold(s.Table, ref.Table) && strings.EqualFold(s.Column, ref.Column) {
			return
		}
	}
	m.Sources = append(m.Sources, ref)
}

var aggregateFunctions = map[string]bool{
	"ANY_VALUE": true, "APPROX_COUNT_DISTINCT": true, "ARRAY_AGG": true, "AVG": true,
	"BIT_AND": true, "BIT_OR": true, "BOOL_AND": true, "BOOL_OR": true, "COUNT": true,
	"COUNT_IF": true, "CORR": true, "COVAR_POP": true, "COVAR_SAMP": true, "EVERY": true,
	"GROUP_CONCAT": true, "LISTAGG": true, "MAX": true, "MEDIAN": true, "MIN": true,
	"MODE": true, "PERCENTILE_CONT": true, "PERCENTILE_DISC": true, "STDDEV": true,
	"STDDEV_POP": true, "STDDEV_SAMP": true, "STRING_AGG": true, "SUM": true,
	"VARIANCE": true, "VAR_POP": true, "VAR_SAMP": true,
}

// IsAggregate reports whether name (any case) is a known aggregate function.
func IsAggregate(name string) bool {
	return aggregateFunctions[strings.ToUpper(name)]
}

// ClassifyTransformation derives a TransformKind from a description.
func ClassifyTransformation(desc string) TransformKind {
	lower := strings.ToLower(strings.TrimSpace(desc))
	switch {
	case lower == "" || lower == "direct" || lower == "identity" || lower == "direct copy":
		return TransformDirect
	case strings.Contains(lower, "group key"):
		return TransformGroupKey
	case strings.HasPrefix(lower, "literal") || strings.HasPrefix(lower, "constant"):
		return TransformLiteral
	case strings.HasPrefix(lower, "aggregation"):
		return TransformAggregation
	case strings.HasPrefix(lower, "window"):
		return TransformWindow
	case strings.HasPrefix(lower, "conditional") || strings.HasPrefix(lower, "case when"):
		return TransformConditional
	case strings.HasPrefix(lower, "cast"):
		return TransformCast
	case strings.Contains(lower, "subquery"):
		return TransformSubquery
	}
	if i := strings.IndexByte(lower, '('); i > 0 && IsAggregate(lower[:i]) {
		return TransformAggregation
	}
	return TransformExpression
}
