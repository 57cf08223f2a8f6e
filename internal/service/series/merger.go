package series

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/sirupsen/logrus"
)

type Mode string

const (
	ModeHistorical Mode = "historical"
	ModeLive       Mode = "live"
	ModeHybrid     Mode = "hybrid"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeHistorical, ModeLive, ModeHybrid:
		return Mode(raw), nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown render mode: %s", raw)
	}
}

// HistoricalSource is the cached-bar side of the merge. Satisfied by
// history.Service.
type HistoricalSource interface {
	Query(ctx context.Context, instrumentID string, timeframe entity.Timeframe, start, end time.Time) ([]entity.Bar, error)
}

// LiveSource supplies open (unsealed) bars. Satisfied by the in-process
// aggregator and by the redis live-bar store.
type LiveSource interface {
	LiveBars(ctx context.Context, instrumentID string, timeframe entity.Timeframe) ([]entity.Bar, error)
}

// Merger blends cached history with live aggregator output into one
// deduplicated, time-ordered series safe to render directly.
type Merger struct {
	historical HistoricalSource
	live       LiveSource
}

func NewMerger(historical HistoricalSource, live LiveSource) *Merger {
	return &Merger{historical: historical, live: live}
}

// RenderSeries selects source bars per mode, appending live bars after
// historical ones so that in hybrid mode a live bar wins a bucket tie.
func (m *Merger) RenderSeries(ctx context.Context, instrumentID string, timeframe entity.Timeframe, mode Mode, start, end time.Time) ([]entity.Bar, error) {
	var combined []entity.Bar

	if mode == ModeHistorical || mode == ModeHybrid {
		cached, err := m.historical.Query(ctx, instrumentID, timeframe, start, end)
		if err != nil {
			return nil, fmt.Errorf("query cached bars for %s/%s: %w", instrumentID, timeframe, err)
		}
		combined = append(combined, cached...)
	}

	if mode == ModeLive || mode == ModeHybrid {
		live, err := m.live.LiveBars(ctx, instrumentID, timeframe)
		if err != nil {
			return nil, fmt.Errorf("load live bars for %s/%s: %w", instrumentID, timeframe, err)
		}
		for _, bar := range live {
			if bar.BucketStart.Before(start) || !bar.BucketStart.Before(end) {
				continue
			}
			combined = append(combined, bar)
		}
	}

	return MergeBars(combined), nil
}

// MergeBars sorts ascending by bucket start and deduplicates keeping the bar
// with the highest source index, so later-appended (more authoritative) bars
// win ties. Bars failing validation are dropped with a warning rather than
// propagated: one malformed bar must not blank an entire chart.
func MergeBars(bars []entity.Bar) []entity.Bar {
	indexed := make([]int, len(bars))
	for i := range indexed {
		indexed[i] = i
	}

	sort.SliceStable(indexed, func(a, b int) bool {
		return bars[indexed[a]].BucketStart.Before(bars[indexed[b]].BucketStart)
	})

	merged := make([]entity.Bar, 0, len(bars))
	for _, idx := range indexed {
		bar := bars[idx]
		if len(merged) > 0 && merged[len(merged)-1].BucketStart.Equal(bar.BucketStart) {
			merged[len(merged)-1] = bar
			continue
		}
		merged = append(merged, bar)
	}

	valid := merged[:0]
	for _, bar := range merged {
		if err := bar.Validate(); err != nil {
			logrus.Warnf("dropping malformed bar from series: %v", err)
			continue
		}
		valid = append(valid, bar)
	}

	return valid
}
