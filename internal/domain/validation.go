package domain

import "fmt"

// IssueKind classifies a structural or semantic problem found by graph
// validation.
type IssueKind string

// Validation error kinds. UnreachableNode is warning-only and never
// blocks compilation.
const (
	MissingOutputNode IssueKind = "MISSING_OUTPUT_NODE"
	CyclicGraph       IssueKind = "CYCLIC_GRAPH"
	InvalidOperation  IssueKind = "INVALID_OPERATION"
	CurrencyMismatch  IssueKind = "CURRENCY_MISMATCH"
	UnreachableNode   IssueKind = "UNREACHABLE_NODE"
)

// Issue is a single validation finding.
type Issue struct {
	Kind    IssueKind
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

// ValidationResult accumulates the findings of a validation pass.
// Validation never panics or returns a Go error; it always produces a
// result, with orthogonal checks accumulating independent findings.
type ValidationResult struct {
	// Errors block compilation, in check order.
	Errors []Issue
	// Warnings are advisory and never block compilation.
	Warnings []Issue
}

// Valid reports whether the graph passed validation with no errors.
// Warnings do not affect validity.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// AddError appends a blocking finding.
func (r *ValidationResult) AddError(kind IssueKind, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// AddWarning appends an advisory finding.
func (r *ValidationResult) AddWarning(kind IssueKind, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Kind: kind, Message: fmt.Sprintf(format, args...)})
}
