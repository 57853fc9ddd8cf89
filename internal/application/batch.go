package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/priceflow/pam-engine/internal/domain"
	"github.com/priceflow/pam-engine/internal/ports"
)

// defaultPageSize bounds how many items a batch evaluates per page.
// Within a page items run concurrently; across pages execution is
// sequential, which is the orchestrator's sole backpressure mechanism.
const defaultPageSize = 100

// BatchRequest describes one calculation run: a PAM graph applied to a
// set of priced items as of a date under a version preference.
type BatchRequest struct {
	TenantID          string
	PAMID             string
	ContractID        string
	Graph             *domain.PAMGraph
	AsOfDate          time.Time
	VersionPreference domain.VersionPreference
	Items             []domain.PricedItem
	// ContinueOnError controls whether one item's failure aborts the
	// batch. nil defaults to true: failures are counted, not fatal.
	ContinueOnError *bool
}

func (r BatchRequest) continueOnError() bool {
	return r.ContinueOnError == nil || *r.ContinueOnError
}

func (r BatchRequest) itemIDs() []string {
	ids := make([]string, len(r.Items))
	for i, item := range r.Items {
		ids[i] = item.ID
	}
	return ids
}

// BatchSummary reports the aggregate outcome of an executed batch.
type BatchSummary struct {
	BatchID   string
	Status    domain.BatchStatus
	Succeeded int
	Failed    int
}

// Orchestrator runs calculation batches: it creates batches
// idempotently keyed by inputs hash, executes them page by page with
// per-item failure isolation, and drives the batch lifecycle state
// machine. It is the only engine component that performs I/O, and it
// serializes store writes per batch by performing them from the single
// goroutine that owns the run.
type Orchestrator struct {
	store    ports.BatchStore
	executor ports.GraphExecutor
	metrics  ports.MetricsCollector
	logger   *slog.Logger
	pageSize int

	// cancelled marks batch ids whose runs should stop at the next
	// page boundary. In-flight pages always run to completion.
	mu        sync.Mutex
	cancelled map[string]struct{}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPageSize overrides the default page size of 100.
func WithPageSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithMetrics wires a metrics collector.
func WithMetrics(m ports.MetricsCollector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger wires a structured logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator over the given store and
// executor.
func NewOrchestrator(store ports.BatchStore, executor ports.GraphExecutor, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		executor:  executor,
		metrics:   ports.NoopMetrics{},
		logger:    slog.Default(),
		pageSize:  defaultPageSize,
		cancelled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateBatch computes the request's inputs hash and creates a batch
// for it unless an equivalent one already exists. Re-submitting an
// identical calculation request never duplicates work: when a
// non-failed batch with the same tenant, PAM, and hash exists, that
// batch is returned with isDuplicate=true.
func (o *Orchestrator) CreateBatch(ctx context.Context, req BatchRequest) (batch *domain.CalcBatch, isDuplicate bool, err error) {
	if req.Graph == nil {
		return nil, false, fmt.Errorf("batch request requires a graph")
	}
	if len(req.Items) == 0 {
		return nil, false, fmt.Errorf("batch request requires at least one item")
	}
	if !req.VersionPreference.Valid() {
		return nil, false, fmt.Errorf("batch request has invalid version preference %q", req.VersionPreference)
	}

	hash, err := InputsHash(domain.BatchInputs{
		Graph:             req.Graph,
		AsOfDate:          req.AsOfDate,
		VersionPreference: req.VersionPreference,
		ItemIDs:           req.itemIDs(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash batch inputs: %w", err)
	}

	candidate := &domain.CalcBatch{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		PAMID:      req.PAMID,
		ContractID: req.ContractID,
		InputsHash: hash,
		Status:     domain.BatchQueued,
	}

	existing, created, err := o.store.FindOrCreateBatch(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create batch: %w", err)
	}
	if !created {
		o.metrics.RecordCounter("pam_batch_duplicates_total", 1, map[string]string{"tenant": req.TenantID})
		o.logger.Info("duplicate batch submission",
			"tenant", req.TenantID, "pam", req.PAMID, "batch", existing.ID, "hash", hash)
		return existing, true, nil
	}

	o.logger.Info("batch created",
		"tenant", req.TenantID, "pam", req.PAMID, "batch", candidate.ID, "items", len(req.Items))
	return candidate, false, nil
}

// ExecuteBatch runs a queued batch to completion: RUNNING, then
// COMPLETED or FAILED. Items are processed in fixed-size pages;
// within a page executions run concurrently, across pages sequentially.
// Each item's failure is captured in its result; with continueOnError
// (the default) failures are counted, otherwise the first failing page
// fails the batch with the triggering error retained.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, batchID string, req BatchRequest) (*BatchSummary, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := batch.Transition(domain.BatchRunning); err != nil {
		return nil, &domain.BatchError{BatchID: batchID,
			Reason: fmt.Sprintf("cannot start batch in status %s", batch.Status), Err: err}
	}
	batch.StartedAt = &start
	if err := o.store.UpdateBatch(ctx, batch); err != nil {
		return nil, err
	}

	summary, runErr := o.runPages(ctx, batch, req)

	done := time.Now()
	batch.CompletedAt = &done
	batch.Succeeded = summary.Succeeded
	batch.Failed = summary.Failed
	if runErr != nil {
		batch.Error = runErr.Error()
		if terr := batch.Transition(domain.BatchFailed); terr != nil {
			return nil, terr
		}
	} else {
		if terr := batch.Transition(domain.BatchCompleted); terr != nil {
			return nil, terr
		}
	}
	if err := o.store.UpdateBatch(ctx, batch); err != nil {
		return nil, err
	}

	o.metrics.RecordLatency("batch_execution", time.Since(start),
		map[string]string{"tenant": batch.TenantID, "status": string(batch.Status)})
	o.logger.Info("batch finished",
		"batch", batch.ID, "status", batch.Status,
		"succeeded", batch.Succeeded, "failed", batch.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	summary.BatchID = batch.ID
	summary.Status = batch.Status
	if runErr != nil {
		return summary, &domain.BatchError{BatchID: batch.ID, Reason: "batch failed", Err: runErr}
	}
	return summary, nil
}

// runPages processes the item set page by page, persisting each page's
// results before starting the next. Cancellation is cooperative at
// page boundaries only.
func (o *Orchestrator) runPages(ctx context.Context, batch *domain.CalcBatch, req BatchRequest) (*BatchSummary, error) {
	summary := &BatchSummary{}
	var lastItemErr error

	for offset := 0; offset < len(req.Items); offset += o.pageSize {
		if o.isCancelled(batch.ID) {
			// Consume the mark so the id does not linger after the
			// run records its FAILED status.
			o.clearCancelled(batch.ID)
			return summary, domain.ErrBatchCancelled
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := offset + o.pageSize
		if end > len(req.Items) {
			end = len(req.Items)
		}
		page := req.Items[offset:end]

		results := make([]domain.CalcResult, len(page))
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range page {
			i, item := i, item
			g.Go(func() error {
				results[i] = o.executeItem(gctx, batch, req, item)
				return nil
			})
		}
		// Item errors are captured in their results, never returned
		// through the group, so one item cannot poison another.
		if err := g.Wait(); err != nil {
			return summary, err
		}

		if err := o.store.SaveResults(ctx, results); err != nil {
			return summary, fmt.Errorf("failed to save results: %w", err)
		}

		for _, r := range results {
			if r.Succeeded() {
				summary.Succeeded++
				continue
			}
			summary.Failed++
			lastItemErr = fmt.Errorf("item %s: %s", r.ItemID, r.Error)
		}

		if summary.Failed > 0 && !req.continueOnError() {
			return summary, lastItemErr
		}
	}

	return summary, nil
}

// executeItem evaluates the graph for one priced item, capturing any
// failure in the result instead of propagating it.
func (o *Orchestrator) executeItem(ctx context.Context, batch *domain.CalcBatch, req BatchRequest, item domain.PricedItem) domain.CalcResult {
	result := domain.CalcResult{
		BatchID:       batch.ID,
		ItemID:        item.ID,
		EffectiveDate: req.AsOfDate,
	}

	basePrice := item.BasePrice
	ec := domain.ExecutionContext{
		TenantID:          req.TenantID,
		AsOfDate:          req.AsOfDate,
		VersionPreference: req.VersionPreference,
		BaseCurrency:      item.Currency,
		BaseUnit:          item.Unit,
		BasePrice:         &basePrice,
	}
	if ec.BaseCurrency == "" {
		ec.BaseCurrency = req.Graph.Metadata.BaseCurrency
	}
	if ec.BaseUnit == "" {
		ec.BaseUnit = req.Graph.Metadata.BaseUnit
	}

	exec, err := o.executor.Execute(ctx, req.Graph, ec)
	if err != nil {
		result.Error = err.Error()
		o.metrics.RecordCounter("pam_item_failures_total", 1, map[string]string{"tenant": req.TenantID})
		return result
	}

	result.AdjustedPrice = exec.Value
	result.AdjustedCurrency = exec.Currency
	if result.AdjustedCurrency == "" {
		result.AdjustedCurrency = ec.BaseCurrency
	}
	result.Contributions = exec.Contributions.ToMap()
	return result
}

// RetryBatch resets a FAILED batch to QUEUED so it can be executed
// again. Retry re-executes the full item set; already-succeeded items
// are not skipped.
func (o *Orchestrator) RetryBatch(ctx context.Context, batchID string) (*domain.CalcBatch, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := batch.Transition(domain.BatchQueued); err != nil {
		return nil, &domain.BatchError{BatchID: batchID,
			Reason: fmt.Sprintf("cannot retry batch in status %s", batch.Status), Err: err}
	}
	batch.Error = ""
	batch.Succeeded = 0
	batch.Failed = 0
	batch.StartedAt = nil
	batch.CompletedAt = nil
	o.clearCancelled(batchID)
	if err := o.store.UpdateBatch(ctx, batch); err != nil {
		return nil, err
	}
	o.logger.Info("batch queued for retry", "batch", batchID)
	return batch, nil
}

// CancelBatch forces a QUEUED or RUNNING batch to FAILED with a
// sentinel cause. A RUNNING batch stops at its next page boundary; its
// in-flight page always runs to completion first.
func (o *Orchestrator) CancelBatch(ctx context.Context, batchID string) error {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}

	switch batch.Status {
	case domain.BatchRunning:
		// The running goroutine observes the mark at the next page
		// boundary and records the FAILED status itself.
		o.markCancelled(batchID)
		o.logger.Info("batch cancellation requested", "batch", batchID)
		return nil
	case domain.BatchQueued:
		if err := batch.Transition(domain.BatchFailed); err != nil {
			return err
		}
		batch.Error = domain.ErrBatchCancelled.Error()
		now := time.Now()
		batch.CompletedAt = &now
		return o.store.UpdateBatch(ctx, batch)
	default:
		return &domain.BatchError{BatchID: batchID,
			Reason: fmt.Sprintf("cannot cancel batch in status %s", batch.Status)}
	}
}

func (o *Orchestrator) markCancelled(batchID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled[batchID] = struct{}{}
}

func (o *Orchestrator) clearCancelled(batchID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancelled, batchID)
}

func (o *Orchestrator) isCancelled(batchID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.cancelled[batchID]
	return ok
}
