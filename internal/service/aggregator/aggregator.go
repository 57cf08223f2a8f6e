package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Aggregator synthesizes fixed-interval OHLCV bars from the raw tick stream for
// one timeframe. State is an explicit keyed store (instrument id -> open bar);
// ticks for a single instrument are applied in delivery order and out-of-order
// ticks for already-sealed buckets are dropped, since sealed bars are immutable.
type Aggregator struct {
	timeframe entity.Timeframe
	interval  time.Duration

	mu     sync.Mutex
	open   map[string]*entity.Bar
	sealed []func(entity.Bar)
}

func New(timeframe entity.Timeframe) (*Aggregator, error) {
	interval, ok := timeframe.Duration()
	if !ok {
		return nil, fmt.Errorf("unknown timeframe: %s", timeframe)
	}

	return &Aggregator{
		timeframe: timeframe,
		interval:  interval,
		open:      make(map[string]*entity.Bar),
	}, nil
}

func (a *Aggregator) Timeframe() entity.Timeframe {
	return a.timeframe
}

// OnSealed registers a callback invoked once per bar when its bucket closes.
func (a *Aggregator) OnSealed(fn func(entity.Bar)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = append(a.sealed, fn)
}

func (a *Aggregator) OnTick(tick entity.Tick) {
	price, ok := tick.EffectivePrice()
	if !ok {
		logrus.Debugf("dropping tick for %s: no usable price", tick.InstrumentID)
		return
	}
	if tick.InstrumentID == "" || tick.Timestamp.IsZero() {
		logrus.Debug("dropping malformed tick")
		return
	}

	bucketStart := entity.BucketStartFor(tick.Timestamp, a.interval)
	now := time.Now().UTC()

	var justSealed *entity.Bar

	a.mu.Lock()
	current := a.open[tick.InstrumentID]
	switch {
	case current == nil || bucketStart.After(current.BucketStart):
		if current != nil {
			current.IsFinal = true
			current.UpdatedAt = now
			sealedCopy := *current
			justSealed = &sealedCopy
		}
		a.open[tick.InstrumentID] = &entity.Bar{
			InstrumentID: tick.InstrumentID,
			Timeframe:    a.timeframe,
			BucketStart:  bucketStart,
			OpenPrice:    price,
			HighPrice:    price,
			LowPrice:     price,
			ClosePrice:   price,
			Volume:       tickVolume(tick),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	case bucketStart.Before(current.BucketStart):
		a.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"instrument_id": tick.InstrumentID,
			"bucket_start":  bucketStart,
		}).Debug("dropping out-of-order tick for sealed bucket")
		return
	default:
		current.HighPrice = decimal.Max(current.HighPrice, price)
		current.LowPrice = decimal.Min(current.LowPrice, price)
		current.ClosePrice = price
		current.Volume = current.Volume.Add(tickVolume(tick))
		current.UpdatedAt = now
	}
	listeners := a.sealed
	a.mu.Unlock()

	if justSealed != nil {
		for _, fn := range listeners {
			fn(*justSealed)
		}
	}
}

// CurrentBar returns a copy of the open (unsealed) bar for the instrument, or
// nil when no tick has arrived in the current bucket's lifetime.
func (a *Aggregator) CurrentBar(instrumentID string) *entity.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.open[instrumentID]
	if !ok {
		return nil
	}

	copied := *current
	return &copied
}

// LiveBars satisfies the series merger's live source for in-process rendering.
func (a *Aggregator) LiveBars(_ context.Context, instrumentID string, timeframe entity.Timeframe) ([]entity.Bar, error) {
	if timeframe != a.timeframe {
		return nil, nil
	}

	bar := a.CurrentBar(instrumentID)
	if bar == nil {
		return nil, nil
	}

	return []entity.Bar{*bar}, nil
}

func tickVolume(tick entity.Tick) decimal.Decimal {
	if tick.Size != nil && tick.Size.IsPositive() {
		return *tick.Size
	}
	return decimal.NewFromInt(1)
}
