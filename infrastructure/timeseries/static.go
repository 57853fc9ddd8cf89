// Package timeseries provides TimeseriesResolver implementations: a
// static in-memory resolver loaded with known points, and a
// rate-limited decorator for resolvers that front external providers.
package timeseries

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/priceflow/pam-engine/internal/domain"
	"github.com/priceflow/pam-engine/internal/ports"
)

// Point is one published value of a series at a date and revision.
type Point struct {
	Date    time.Time
	Value   decimal.Decimal
	Version domain.VersionPreference
}

// SeriesInfo is a series' static metadata.
type SeriesInfo struct {
	Unit     string
	Currency string
}

// StaticResolver is an in-memory TimeseriesResolver. It also
// implements the SeriesMetadata capability, which lets the validator
// run unit/currency consistency checks against it.
// Safe for concurrent use.
type StaticResolver struct {
	mu     sync.RWMutex
	points map[string][]Point
	info   map[string]SeriesInfo
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		points: make(map[string][]Point),
		info:   make(map[string]SeriesInfo),
	}
}

// AddSeries registers a series with its metadata and points.
// Points may be added in any order; resolution scans by date.
func (r *StaticResolver) AddSeries(code string, info SeriesInfo, points ...Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info[code] = info
	r.points[code] = append(r.points[code], points...)
}

// preferenceChain returns the revision fallback order for a
// preference. A preference selects its own revision first and falls
// back toward earlier publication stages when the preferred revision
// has not been published for a date.
func preferenceChain(p domain.VersionPreference) []domain.VersionPreference {
	switch p {
	case domain.VersionRevised:
		return []domain.VersionPreference{domain.VersionRevised, domain.VersionFinal, domain.VersionPreliminary}
	case domain.VersionFinal:
		return []domain.VersionPreference{domain.VersionFinal, domain.VersionPreliminary}
	default:
		return []domain.VersionPreference{domain.VersionPreliminary}
	}
}

// Resolve implements ports.TimeseriesResolver.
// The effective date is the query's as-of date shifted back by the lag.
// Without an aggregation the latest qualifying point wins; with one,
// the points inside the lag window [effective date, as-of date], both
// ends inclusive, are folded.
func (r *StaticResolver) Resolve(ctx context.Context, q ports.SeriesQuery) (ports.SeriesPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	points, ok := r.points[q.Code]
	if !ok {
		return ports.SeriesPoint{}, ports.ErrSeriesNotFound
	}
	info := r.info[q.Code]

	effective := q.AsOf.AddDate(0, 0, -q.LagDays)

	if q.Aggregation != "" && q.Aggregation != domain.AggLast {
		return r.aggregate(points, info, q, effective)
	}

	var best *Point
	for _, pref := range preferenceChain(q.Preference) {
		for i := range points {
			p := &points[i]
			if p.Version != pref || p.Date.After(effective) {
				continue
			}
			if best == nil || p.Date.After(best.Date) {
				best = p
			}
		}
		if best != nil {
			break
		}
	}
	if best == nil {
		return ports.SeriesPoint{}, ports.ErrSeriesNotFound
	}

	return ports.SeriesPoint{
		Value:         best.Value,
		EffectiveDate: best.Date,
		Version:       best.Version,
		Unit:          info.Unit,
		Currency:      info.Currency,
	}, nil
}

// aggregate folds the qualifying points inside the lag window
// [effective, asOf] at the first revision stage that has any.
func (r *StaticResolver) aggregate(points []Point, info SeriesInfo, q ports.SeriesQuery, effective time.Time) (ports.SeriesPoint, error) {
	var window []Point
	for _, pref := range preferenceChain(q.Preference) {
		for _, p := range points {
			if p.Version != pref {
				continue
			}
			if p.Date.Before(effective) || p.Date.After(q.AsOf) {
				continue
			}
			window = append(window, p)
		}
		if len(window) > 0 {
			break
		}
	}
	if len(window) == 0 {
		return ports.SeriesPoint{}, ports.ErrSeriesNotFound
	}

	acc := window[0].Value
	latest := window[0]
	for _, p := range window[1:] {
		if p.Date.After(latest.Date) {
			latest = p
		}
		switch q.Aggregation {
		case domain.AggMean:
			acc = acc.Add(p.Value)
		case domain.AggMin:
			if p.Value.LessThan(acc) {
				acc = p.Value
			}
		case domain.AggMax:
			if p.Value.GreaterThan(acc) {
				acc = p.Value
			}
		}
	}
	if q.Aggregation == domain.AggMean {
		acc = acc.DivRound(decimal.NewFromInt(int64(len(window))), 28)
	}

	return ports.SeriesPoint{
		Value:         acc,
		EffectiveDate: latest.Date,
		Version:       latest.Version,
		Unit:          info.Unit,
		Currency:      info.Currency,
	}, nil
}

// Metadata implements ports.SeriesMetadata.
func (r *StaticResolver) Metadata(ctx context.Context, tenantID, code string) (string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.info[code]
	if !ok {
		return "", "", ports.ErrSeriesNotFound
	}
	return info.Unit, info.Currency, nil
}
