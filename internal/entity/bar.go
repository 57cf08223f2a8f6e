package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a fixed-interval OHLCV record keyed by (instrument_id, timeframe, bucket_start).
// A live bar mutates in place until its bucket elapses; once sealed (IsFinal) it is
// immutable and corrections arrive as replacement rows with the same key.
type Bar struct {
	InstrumentID string          `db:"instrument_id" json:"instrument_id"`
	Timeframe    Timeframe       `db:"timeframe" json:"timeframe"`
	BucketStart  time.Time       `db:"bucket_start" json:"bucket_start"`
	OpenPrice    decimal.Decimal `db:"open_price" json:"open"`
	HighPrice    decimal.Decimal `db:"high_price" json:"high"`
	LowPrice     decimal.Decimal `db:"low_price" json:"low"`
	ClosePrice   decimal.Decimal `db:"close_price" json:"close"`
	Volume       decimal.Decimal `db:"volume" json:"volume"`
	IsFinal      bool            `db:"is_final" json:"is_final"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (Bar) TableName() string {
	return "market_bars"
}

func (b Bar) Validate() error {
	if b.InstrumentID == "" {
		return fmt.Errorf("bar is missing instrument id")
	}
	if !b.Timeframe.Valid() {
		return fmt.Errorf("bar has unknown timeframe: %s", b.Timeframe)
	}
	if b.BucketStart.IsZero() {
		return fmt.Errorf("bar is missing bucket start")
	}
	if !b.OpenPrice.IsPositive() || !b.ClosePrice.IsPositive() || !b.HighPrice.IsPositive() || !b.LowPrice.IsPositive() {
		return fmt.Errorf("bar %s/%s@%s has non-positive price", b.InstrumentID, b.Timeframe, b.BucketStart.Format(time.RFC3339))
	}
	upper := decimal.Max(b.OpenPrice, b.ClosePrice)
	lower := decimal.Min(b.OpenPrice, b.ClosePrice)
	if b.HighPrice.LessThan(upper) {
		return fmt.Errorf("bar %s/%s@%s high %s below body %s", b.InstrumentID, b.Timeframe, b.BucketStart.Format(time.RFC3339), b.HighPrice, upper)
	}
	if b.LowPrice.GreaterThan(lower) {
		return fmt.Errorf("bar %s/%s@%s low %s above body %s", b.InstrumentID, b.Timeframe, b.BucketStart.Format(time.RFC3339), b.LowPrice, lower)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar %s/%s@%s has negative volume", b.InstrumentID, b.Timeframe, b.BucketStart.Format(time.RFC3339))
	}
	return nil
}

type BarEvent struct {
	RetryCount int `json:"retry"`
	Data       Bar `json:"data"`
}
