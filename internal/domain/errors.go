package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the engine.
var (
	// ErrBatchNotFound indicates that no batch exists for the given id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchCancelled is the sentinel cause recorded on a batch that
	// was cancelled before completing.
	ErrBatchCancelled = errors.New("batch cancelled")

	// ErrInvalidTransition indicates a batch status change that the
	// lifecycle state machine does not permit.
	ErrInvalidTransition = errors.New("invalid batch status transition")
)

// CompilationError wraps the validation findings that prevented a graph
// from compiling. The compiler fails closed: an invalid graph is never
// partially compiled.
type CompilationError struct {
	Result ValidationResult
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	msgs := make([]string, len(e.Result.Errors))
	for i, issue := range e.Result.Errors {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("Graph compilation failed: %s", strings.Join(msgs, "; "))
}

// NewCompilationError wraps a failed validation result.
func NewCompilationError(result ValidationResult) *CompilationError {
	return &CompilationError{Result: result}
}

// NodeExecutionError reports a node that failed to evaluate: missing or
// invalid parameters, an unsupported operation, or arithmetic failures
// such as division by zero.
type NodeExecutionError struct {
	// NodeID is the offending node; always populated.
	NodeID string
	// Reason is the human-readable cause.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("node %s: %s", e.NodeID, e.Reason)
}

// Unwrap returns the underlying error.
func (e *NodeExecutionError) Unwrap() error { return e.Err }

// NewNodeExecutionError creates a NodeExecutionError for the given node.
func NewNodeExecutionError(nodeID, format string, args ...any) *NodeExecutionError {
	return &NodeExecutionError{NodeID: nodeID, Reason: fmt.Sprintf(format, args...)}
}

// ConversionError reports a Convert node whose input lacked the unit or
// currency metadata the conversion requires.
type ConversionError struct {
	NodeID string
	Kind   ConversionKind
}

// Error implements the error interface. The message names both the
// conversion kind and the missing metadata so callers can surface a
// precise cause.
func (e *ConversionError) Error() string {
	switch e.Kind {
	case ConvertCurrency:
		return fmt.Sprintf("node %s: %s conversion attempts currency conversion but input has no currency", e.NodeID, e.Kind)
	default:
		return fmt.Sprintf("node %s: %s conversion attempts unit conversion but input has no unit", e.NodeID, e.Kind)
	}
}

// UnsupportedNodeTypeError reports a node whose type the executor does
// not recognize. Execution fails fast before any partial evaluation.
type UnsupportedNodeTypeError struct {
	NodeID string
	Type   NodeType
}

// Error implements the error interface.
func (e *UnsupportedNodeTypeError) Error() string {
	return fmt.Sprintf("node %s: unsupported node type %q", e.NodeID, e.Type)
}

// NotImplementedError reports a capability the engine was asked for but
// was not wired with, such as a series lookup without a resolver.
// Silently returning zero would corrupt downstream prices, so the
// executor fails instead.
type NotImplementedError struct {
	NodeID     string
	Capability string
}

// Error implements the error interface.
func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("node %s: %s is not yet implemented in this engine configuration", e.NodeID, e.Capability)
}

// BatchError reports a batch-level failure: creation conflicts, missing
// items, or an aborted run.
type BatchError struct {
	BatchID string
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("batch %s: %s: %v", e.BatchID, e.Reason, e.Err)
	}
	return fmt.Sprintf("batch %s: %s", e.BatchID, e.Reason)
}

// Unwrap returns the underlying error.
func (e *BatchError) Unwrap() error { return e.Err }
