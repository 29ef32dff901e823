package pipeline

import (
	"fmt"
	"strings"
)

// Stage names used in UnitFailure.
const (
	StageFields     = "fields"
	StageOperations = "operations"
)

// UnitFailure is one failed per-unit analysis.
type UnitFailure struct {
	Unit  string
	Stage string
	Err   error
}

// UnitFailures is returned when any per-unit analysis failed. Every unit is
// analyzed before it is returned, so it lists all failures of the run.
type UnitFailures struct {
	Failures []UnitFailure
	// Units is the number of units analyzed.
	Units int
}

func (e *UnitFailures) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d units failed", e.failedUnits(), e.Units)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s (%s): %v", f.Unit, f.Stage, f.Err)
	}
	return b.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *UnitFailures) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

func (e *UnitFailures) failedUnits() int {
	seen := make(map[string]bool)
	for _, f := range e.Failures {
		seen[f.Unit] = true
	}
	return len(seen)
}
