package parser

import (
	"fmt"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     token.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken = "unexpected token %s, expected %s"
	ErrExpectedName    = "expected %s, got %s"
	ErrTrailingInput   = "unexpected token %s after end of statement"
	ErrUnexpectedExpr  = "unexpected token in expression: %s"
	ErrNaturalWithOn   = "NATURAL JOIN cannot have ON clause"
	ErrNaturalUsing    = "NATURAL JOIN cannot have USING clause"
	ErrIllegalToken    = "illegal token %q"
)

// ResolutionError represents a column/table resolution error.
type ResolutionError struct {
	Message string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution error: %s", e.Message)
}

// Resolution error messages
const (
	ErrUnknownColumn   = "unknown column %q"
	ErrUnknownTable    = "unknown table or alias %q"
	ErrAmbiguousColumn = "ambiguous column reference %q"
	ErrDuplicateAlias  = "duplicate table alias %q"
)
