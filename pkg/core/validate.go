package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ValidateUnits checks a unit sequence against the decomposition contract:
// non-empty unique ids and names, non-empty SQL, and exactly one main query
// which comes last.
func ValidateUnits(units Units) error {
	if len(units) == 0 {
		return NewDecompositionError("", nil, "no units")
	}
	ids := make(map[string]bool, len(units))
	names := make(map[string]bool, len(units))
	var errs []error
	for i, u := range units {
		switch {
		case u.Name == "":
			errs = append(errs, NewDecompositionError(u.ID, nil, "unit %d has no name", i+1))
		case names[strings.ToLower(u.Name)]:
			errs = append(errs, NewDecompositionError(u.Name, nil, "duplicate unit name"))
		}
		names[strings.ToLower(u.Name)] = true
		if u.ID != "" {
			if ids[u.ID] {
				errs = append(errs, NewDecompositionError(u.Name, nil, "duplicate unit id %q", u.ID))
			}
			ids[u.ID] = true
		}
		if strings.TrimSpace(u.SQL) == "" {
			errs = append(errs, NewDecompositionError(u.Name, nil, "empty sql"))
		}
		if u.Kind == UnitMainQuery && i != len(units)-1 {
			errs = append(errs, NewDecompositionError(u.Name, nil, "main query must be the last unit"))
		}
	}
	if units[len(units)-1].Kind != UnitMainQuery {
		errs = append(errs, NewDecompositionError("", nil, "last unit %q is not the main query", units[len(units)-1].Name))
	}
	return errors.Join(errs...)
}

// ValidateFieldMappings checks one unit's mappings: every name is present
// and unique.
func ValidateFieldMappings(unit string, mappings []OutputFieldMapping) error {
	seen := make(map[string]bool, len(mappings))
	var errs []error
	for i, m := range mappings {
		if m.Name == "" {
			errs = append(errs, NewFieldDerivationError(unit, "", nil, "mapping %d has no name", i+1))
			continue
		}
		key := strings.ToLower(m.Name)
		if seen[key] {
			errs = append(errs, NewFieldDerivationError(unit, m.Name, nil, "duplicate output field"))
		}
		seen[key] = true
		for _, src := range m.Sources {
			if src.Column == "" {
				errs = append(errs, NewFieldDerivationError(unit, m.Name, nil, "source with empty column"))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateOperationRecords checks one unit's records: one record per source
// table, no empty operator strings.
func ValidateOperationRecords(unit string, records []TableOperationRecord) error {
	seen := make(map[string]bool, len(records))
	var errs []error
	for _, r := range records {
		if r.SourceTable == "" {
			errs = append(errs, NewOperationTraceError(unit, nil, "record without source_table"))
			continue
		}
		key := strings.ToLower(r.SourceTable)
		if seen[key] {
			errs = append(errs, NewOperationTraceError(unit, nil, "duplicate record for %s", r.SourceTable))
		}
		seen[key] = true
		for _, c := range Categories {
			for _, pred := range r.Operators.Get(c) {
				if strings.TrimSpace(pred) == "" {
					errs = append(errs, NewOperationTraceError(unit, nil, "empty %s predicate for %s", c, r.SourceTable))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// StageOutputs bundles externally produced per-unit analysis results.
type StageOutputs struct {
	Units      Units                    `json:"units"`
	Fields     [][]OutputFieldMapping   `json:"fields"`
	Operations [][]TableOperationRecord `json:"operations"`
}

// Validate checks the bundle shape and every stage contract.
func (s *StageOutputs) Validate() error {
	if err := ValidateUnits(s.Units); err != nil {
		return err
	}
	if len(s.Fields) != len(s.Units) || len(s.Operations) != len(s.Units) {
		return fmt.Errorf("expected %d field lists and operation lists, got %d and %d",
			len(s.Units), len(s.Fields), len(s.Operations))
	}
	var errs []error
	for i, u := range s.Units {
		errs = append(errs, ValidateFieldMappings(u.Name, s.Fields[i]), ValidateOperationRecords(u.Name, s.Operations[i]))
	}
	return errors.Join(errs...)
}

// UnmarshalJSON decodes each per-unit list through the envelope-aware decoders.
func (s *StageOutputs) UnmarshalJSON(data []byte) error {
	var w struct {
		Units      Units             `json:"units"`
		Fields     []json.RawMessage `json:"fields"`
		Operations []json.RawMessage `json:"operations"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Units = w.Units
	s.Fields = make([][]OutputFieldMapping, len(w.Fields))
	for i, raw := range w.Fields {
		m, err := DecodeFieldMappings(raw)
		if err != nil {
			return fmt.Errorf("fields[%d]: %w", i, err)
		}
		s.Fields[i] = m
	}
	s.Operations = make([][]TableOperationRecord, len(w.Operations))
	for i, raw := range w.Operations {
		r, err := DecodeOperationRecords(raw)
		if err != nil {
			return fmt.Errorf("operations[%d]: %w", i, err)
		}
		s.Operations[i] = r
	}
	return nil
}
