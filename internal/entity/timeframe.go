package entity

import "time"

// Timeframe is the bar interval as stored and exposed on the wire, e.g. "1m".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

func (t Timeframe) Duration() (time.Duration, bool) {
	d, ok := timeframeDurations[t]
	return d, ok
}

func (t Timeframe) Valid() bool {
	_, ok := timeframeDurations[t]
	return ok
}

// BucketStartFor floors ts to the bucket boundary of the given interval.
// Buckets are aligned to the unix epoch in UTC.
func BucketStartFor(ts time.Time, interval time.Duration) time.Time {
	return ts.UTC().Truncate(interval)
}
