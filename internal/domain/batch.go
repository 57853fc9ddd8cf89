package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle state of a calculation batch.
type BatchStatus string

// Batch lifecycle states. Transitions are monotonic:
// QUEUED -> RUNNING -> {COMPLETED | FAILED}, with FAILED resettable to
// QUEUED only through an explicit retry.
const (
	BatchQueued    BatchStatus = "QUEUED"
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchFailed    BatchStatus = "FAILED"
)

// CanTransition reports whether the lifecycle state machine permits
// moving from s to next. The FAILED -> QUEUED edge is the retry path;
// COMPLETED is terminal.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	switch s {
	case BatchQueued:
		return next == BatchRunning || next == BatchFailed
	case BatchRunning:
		return next == BatchCompleted || next == BatchFailed
	case BatchFailed:
		return next == BatchQueued
	default:
		return false
	}
}

// BatchInputs is the ephemeral tuple a batch's inputs hash is computed
// over. Item ids are materialized as a sorted sequence so that set
// equality implies hash equality.
type BatchInputs struct {
	Graph             *PAMGraph
	AsOfDate          time.Time
	VersionPreference VersionPreference
	ItemIDs           []string
}

// SortedItemIDs returns a sorted copy of the item id set.
func (b BatchInputs) SortedItemIDs() []string {
	ids := make([]string, len(b.ItemIDs))
	copy(ids, b.ItemIDs)
	sort.Strings(ids)
	return ids
}

// CalcBatch is one calculation run of a PAM graph over a set of priced
// items. Exactly one non-failed batch exists per distinct
// (tenant, pam, inputsHash) tuple; that uniqueness is the idempotency
// guarantee the orchestrator and store uphold together.
type CalcBatch struct {
	ID         string
	TenantID   string
	PAMID      string
	ContractID string
	// InputsHash is the canonical digest of the batch's inputs.
	InputsHash string
	Status     BatchStatus
	// Succeeded and Failed are aggregate per-item counts, populated
	// once the batch finishes.
	Succeeded   int
	Failed      int
	StartedAt   *time.Time
	CompletedAt *time.Time
	// Error retains the representative cause of a FAILED batch.
	Error string
}

// Transition moves the batch to the next status, enforcing the
// lifecycle state machine. It returns ErrInvalidTransition when the
// move is not permitted.
func (b *CalcBatch) Transition(next BatchStatus) error {
	if !b.Status.CanTransition(next) {
		return ErrInvalidTransition
	}
	b.Status = next
	return nil
}

// CalcResult is the outcome of one item within a batch. Results are
// append-only once written; later changes happen only through the
// external approval/override workflow.
type CalcResult struct {
	BatchID          string
	ItemID           string
	AdjustedPrice    decimal.Decimal
	AdjustedCurrency string
	// Contributions is the per-node trace of the item's execution.
	Contributions map[string]decimal.Decimal
	EffectiveDate time.Time
	// Error is set when the item failed and no price was produced.
	Error string
}

// Succeeded reports whether the item produced a price.
func (r CalcResult) Succeeded() bool { return r.Error == "" }

// PricedItem is one item a batch evaluates: the identifier plus the
// base-price inputs its execution context is seeded with.
type PricedItem struct {
	ID        string
	BasePrice decimal.Decimal
	Currency  string
	Unit      string
}
