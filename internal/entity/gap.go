package entity

import "time"

// Gap is a derived half-open range [Start, End) with no cached bar coverage.
// Boundaries are timeframe-aligned so a backfill fetch requests exactly the
// missing buckets. Gaps are never persisted.
type Gap struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
