package ports

import (
	"context"

	"github.com/priceflow/pam-engine/internal/domain"
)

// BatchStore persists calculation batches and their per-item results.
// It is the only collaborator the engine performs I/O through.
//
// Implementations must make FindOrCreateBatch atomic under concurrent
// submission: two goroutines creating the same (tenant, pam, hash)
// tuple must observe a single batch. That atomicity is what upholds the
// engine's exactly-once guarantee.
type BatchStore interface {
	// FindOrCreateBatch creates the batch unless a non-failed batch
	// with the same tenant, PAM, and inputs hash already exists, in
	// which case the existing batch is returned with created=false.
	FindOrCreateBatch(ctx context.Context, batch *domain.CalcBatch) (existing *domain.CalcBatch, created bool, err error)

	// GetBatch returns the batch with the given id, or
	// domain.ErrBatchNotFound.
	GetBatch(ctx context.Context, id string) (*domain.CalcBatch, error)

	// UpdateBatch persists the batch's current status, counts, and
	// timestamps. Callers serialize updates per batch id.
	UpdateBatch(ctx context.Context, batch *domain.CalcBatch) error

	// SaveResults appends the results of one page of items. Results
	// are append-only; the store never overwrites an existing
	// (batch, item) row.
	SaveResults(ctx context.Context, results []domain.CalcResult) error

	// ListResults returns all results written for a batch, in the
	// order they were saved.
	ListResults(ctx context.Context, batchID string) ([]domain.CalcResult, error)
}

// GraphExecutor is the executable surface of the engine: evaluate one
// graph against one context. The concrete executor and its
// observability decorators all satisfy it, which lets the batch
// orchestrator run a plain, traced, or metered executor unchanged.
type GraphExecutor interface {
	// Execute evaluates the graph in topological order and returns the
	// final value with its full contribution trace.
	Execute(ctx context.Context, graph *domain.PAMGraph, ec domain.ExecutionContext) (*domain.ExecutionResult, error)
}
