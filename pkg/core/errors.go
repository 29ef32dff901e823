package core

import "fmt"

// baseError provides common error functionality for the pipeline error kinds.
type baseError struct {
	stage string
	unit  string
	msg   string
	cause error
}

// Unit returns the name of the unit the error concerns, if any.
func (e *baseError) Unit() string { return e.unit }

func (e *baseError) Error() string {
	s := e.stage
	if e.unit != "" {
		s += " " + e.unit
	}
	s += ": " + e.msg
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *baseError) Unwrap() error { return e.cause }

// DecompositionError reports malformed or unresolvable nesting.
type DecompositionError struct {
	baseError
}

// NewDecompositionError creates a decomposition error.
func NewDecompositionError(unit string, cause error, format string, args ...any) *DecompositionError {
	return &DecompositionError{baseError{stage: "decomposition", unit: unit, msg: fmt.Sprintf(format, args...), cause: cause}}
}

// FieldDerivationError reports an output column whose sources cannot be determined.
type FieldDerivationError struct {
	baseError
	// Field is the output column, when known.
	Field string
}

// NewFieldDerivationError creates a field derivation error.
func NewFieldDerivationError(unit, field string, cause error, format string, args ...any) *FieldDerivationError {
	return &FieldDerivationError{
		baseError: baseError{stage: "field derivation", unit: unit, msg: fmt.Sprintf(format, args...), cause: cause},
		Field:     field,
	}
}

// OperationTraceError reports a malformed predicate.
type OperationTraceError struct {
	baseError
}

// NewOperationTraceError creates an operation trace error.
func NewOperationTraceError(unit string, cause error, format string, args ...any) *OperationTraceError {
	return &OperationTraceError{baseError{stage: "operation trace", unit: unit, msg: fmt.Sprintf(format, args...), cause: cause}}
}

// CompositionError reports an unresolved cross-unit reference or a
// referenced base table missing from the event inputs.
type CompositionError struct {
	baseError
	// Reference is the unresolved column or table.
	Reference string
}

// NewCompositionError creates a composition error.
func NewCompositionError(unit, reference string, format string, args ...any) *CompositionError {
	return &CompositionError{
		baseError: baseError{stage: "composition", unit: unit, msg: fmt.Sprintf(format, args...)},
		Reference: reference,
	}
}

// GraphConsistencyError reports an edge whose endpoint is not a node.
type GraphConsistencyError struct {
	baseError
	Source string
	Target string
	Type   string
}

// NewGraphConsistencyError creates a graph consistency error.
func NewGraphConsistencyError(source, target, edgeType, missing string) *GraphConsistencyError {
	return &GraphConsistencyError{
		baseError: baseError{stage: "graph", msg: fmt.Sprintf("%s edge %s -> %s references missing node %s", edgeType, source, target, missing)},
		Source:    source,
		Target:    target,
		Type:      edgeType,
	}
}

// NewDuplicateNodeError reports two graph nodes sharing an id.
func NewDuplicateNodeError(id string) *GraphConsistencyError {
	return &GraphConsistencyError{
		baseError: baseError{stage: "graph", msg: fmt.Sprintf("duplicate node id %s", id)},
		Source:    id,
		Target:    id,
	}
}
