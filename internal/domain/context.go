package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VersionPreference selects which revision of a timeseries value to
// use as of a given date. Resolvers fall back along the preference
// chain when the preferred revision has not been published yet.
type VersionPreference string

// The revision tags a timeseries point can carry, in publication order.
const (
	VersionPreliminary VersionPreference = "PRELIMINARY"
	VersionFinal       VersionPreference = "FINAL"
	VersionRevised     VersionPreference = "REVISED"
)

// Valid reports whether p is a known version preference.
func (p VersionPreference) Valid() bool {
	switch p {
	case VersionPreliminary, VersionFinal, VersionRevised:
		return true
	}
	return false
}

// ExecutionContext supplies the per-execution inputs of a graph run.
// A context is immutable and supplied fresh per execution; executions
// sharing a context never interfere with each other.
type ExecutionContext struct {
	// TenantID scopes timeseries and persistence lookups.
	TenantID string
	// AsOfDate anchors all timeseries lookups.
	AsOfDate time.Time
	// VersionPreference selects the timeseries revision to prefer.
	VersionPreference VersionPreference
	// BaseCurrency and BaseUnit optionally seed the metadata of the
	// base price.
	BaseCurrency string
	BaseUnit     string
	// BasePrice is the priced item's unadjusted price, available to
	// graphs that reference it.
	BasePrice *decimal.Decimal
}
