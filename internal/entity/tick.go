package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single inbound price update from the streaming gateway. Ticks are
// transient: they feed the aggregator and are never persisted as-is.
type Tick struct {
	InstrumentID string
	Last         *decimal.Decimal
	Bid          *decimal.Decimal
	Ask          *decimal.Decimal
	Size         *decimal.Decimal
	Timestamp    time.Time
}

// EffectivePrice picks the price used for aggregation: last trade price when
// present, otherwise the bid/ask midpoint. Ticks without either are unusable.
func (t Tick) EffectivePrice() (decimal.Decimal, bool) {
	if t.Last != nil {
		return *t.Last, true
	}
	if t.Bid != nil && t.Ask != nil {
		return t.Bid.Add(*t.Ask).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}
