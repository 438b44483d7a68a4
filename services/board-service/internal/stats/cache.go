// Package stats serves dashboard KPIs from a short-TTL cache that is
// explicitly invalidated on every board mutation, so staleness is bounded by
// one mutation rather than the TTL. The cache is never the source of truth:
// any cache failure degrades to a synchronous recompute.
package stats

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a KPI payload can outlive its last recompute
// even if every invalidation signal is missed.
const DefaultTTL = 5 * time.Minute

// maxCoverageDays caps the per-day index fan-out for absurd date ranges.
const maxCoverageDays = 62

// Cache stores opaque payloads under query-derived keys and maintains a
// per-day index so one mutated day invalidates every cached range covering it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, coverage []time.Time) error
	Invalidate(ctx context.Context, days ...time.Time) error
}

// Key derives the cache key from the query parameters.
func Key(from, to time.Time) string {
	return "stats:v1:" + from.UTC().Format("2006-01-02") + ":" + to.UTC().Format("2006-01-02")
}

func indexKey(day time.Time) string {
	return "stats:idx:" + day.UTC().Format("2006-01-02")
}

// DaysCovered lists the UTC days in [from, to), capped at maxCoverageDays.
func DaysCovered(from, to time.Time) []time.Time {
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC()

	var days []time.Time
	for d := start; d.Before(end) && len(days) < maxCoverageDays; d = d.Add(24 * time.Hour) {
		days = append(days, d)
	}
	if len(days) == 0 {
		days = append(days, start)
	}
	return days
}
