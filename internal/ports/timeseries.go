// Package ports defines the interfaces between the calculation engine
// and its collaborators: timeseries resolution, batch persistence, and
// observability. These interfaces enable dependency inversion and make
// the engine testable without infrastructure.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceflow/pam-engine/internal/domain"
)

// Common collaborator errors.
var (
	// ErrSeriesNotFound indicates that no point satisfies a timeseries
	// query.
	ErrSeriesNotFound = errors.New("series not found")

	// ErrRateLimited indicates that a resolver refused a lookup due to
	// rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// SeriesQuery describes one version-preferenced timeseries lookup.
type SeriesQuery struct {
	// TenantID scopes the lookup.
	TenantID string
	// Code is the series identifier.
	Code string
	// AsOf anchors the lookup; LagDays shifts the effective date back.
	AsOf    time.Time
	LagDays int
	// Preference selects which revision of the value to prefer.
	Preference domain.VersionPreference
	// Aggregation optionally folds the points inside the lag window.
	Aggregation domain.AggregationOp
}

// SeriesPoint is a resolved timeseries value together with its
// provenance and metadata.
type SeriesPoint struct {
	Value decimal.Decimal
	// EffectiveDate is the publication date the value applies to.
	EffectiveDate time.Time
	// Version is the revision tag the value was resolved at.
	Version domain.VersionPreference
	// Unit and Currency carry the series' metadata; either may be
	// empty when the provider does not publish it.
	Unit     string
	Currency string
}

// TimeseriesResolver resolves series references for Factor nodes and
// FX series for currency Convert nodes.
// Implementations must be safe for concurrent use; graph executions
// for independent items run in parallel.
type TimeseriesResolver interface {
	// Resolve returns the point satisfying the query, or
	// ErrSeriesNotFound when no point qualifies.
	Resolve(ctx context.Context, q SeriesQuery) (SeriesPoint, error)
}

// SeriesMetadata is the optional capability of reporting a series' unit
// and currency without resolving a value. The validator uses it for
// best-effort unit/currency consistency checks; when a resolver does
// not implement it, those checks are skipped rather than silently
// passed as verified.
type SeriesMetadata interface {
	// Metadata returns the unit and currency a series publishes in.
	// Either may be empty when unknown.
	Metadata(ctx context.Context, tenantID, code string) (unit, currency string, err error)
}
