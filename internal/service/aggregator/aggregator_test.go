package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func tradeTick(instrumentID, last string, ts time.Time) entity.Tick {
	return entity.Tick{
		InstrumentID: instrumentID,
		Last:         dec(last),
		Timestamp:    ts,
	}
}

func TestNew(t *testing.T) {
	t.Run("known timeframe", func(t *testing.T) {
		agg, err := New(entity.Timeframe1m)
		require.NoError(t, err)
		assert.Equal(t, entity.Timeframe1m, agg.Timeframe())
	})

	t.Run("unknown timeframe", func(t *testing.T) {
		_, err := New(entity.Timeframe("2m"))
		require.Error(t, err)
	})
}

func TestOnTickBucketing(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	var sealed []entity.Bar
	agg.OnSealed(func(bar entity.Bar) {
		sealed = append(sealed, bar)
	})

	base := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

	agg.OnTick(tradeTick("AAPL", "100", base))
	agg.OnTick(tradeTick("AAPL", "102", base.Add(15*time.Second)))
	agg.OnTick(tradeTick("AAPL", "101", base.Add(45*time.Second)))
	agg.OnTick(tradeTick("AAPL", "105", base.Add(65*time.Second)))

	require.Len(t, sealed, 1)
	first := sealed[0]
	assert.Equal(t, base, first.BucketStart)
	assert.Equal(t, "100", first.OpenPrice.String())
	assert.Equal(t, "102", first.HighPrice.String())
	assert.Equal(t, "100", first.LowPrice.String())
	assert.Equal(t, "101", first.ClosePrice.String())
	assert.Equal(t, "3", first.Volume.String())
	assert.True(t, first.IsFinal)

	second := agg.CurrentBar("AAPL")
	require.NotNil(t, second)
	assert.Equal(t, base.Add(time.Minute), second.BucketStart)
	assert.Equal(t, "105", second.OpenPrice.String())
	assert.Equal(t, "105", second.ClosePrice.String())
	assert.Equal(t, "1", second.Volume.String())
	assert.False(t, second.IsFinal)
}

func TestOnTickMidpointFallback(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 15, 9, 30, 10, 0, time.UTC)
	agg.OnTick(entity.Tick{
		InstrumentID: "AAPL",
		Bid:          dec("100"),
		Ask:          dec("101"),
		Timestamp:    ts,
	})

	bar := agg.CurrentBar("AAPL")
	require.NotNil(t, bar)
	assert.Equal(t, "100.5", bar.OpenPrice.String())
}

func TestOnTickDropsUnpriceable(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	agg.OnTick(entity.Tick{
		InstrumentID: "AAPL",
		Bid:          dec("100"),
		Timestamp:    time.Now().UTC(),
	})

	assert.Nil(t, agg.CurrentBar("AAPL"))
}

func TestOnTickDropsOutOfOrder(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	base := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

	agg.OnTick(tradeTick("AAPL", "100", base.Add(65*time.Second)))
	// Older bucket after the aggregator has moved on; sealed bars are immutable.
	agg.OnTick(tradeTick("AAPL", "1", base.Add(30*time.Second)))

	bar := agg.CurrentBar("AAPL")
	require.NotNil(t, bar)
	assert.Equal(t, base.Add(time.Minute), bar.BucketStart)
	assert.Equal(t, "100", bar.ClosePrice.String())
	assert.Equal(t, "1", bar.Volume.String())
}

func TestOnTickVolumeUsesSizeHint(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	tick := tradeTick("AAPL", "100", ts)
	tick.Size = dec("250")
	agg.OnTick(tick)
	agg.OnTick(tradeTick("AAPL", "101", ts.Add(time.Second)))

	bar := agg.CurrentBar("AAPL")
	require.NotNil(t, bar)
	assert.Equal(t, "251", bar.Volume.String())
}

func TestInstrumentsAreIndependent(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	agg.OnTick(tradeTick("AAPL", "100", ts))
	agg.OnTick(tradeTick("MSFT", "300", ts))

	aapl := agg.CurrentBar("AAPL")
	msft := agg.CurrentBar("MSFT")
	require.NotNil(t, aapl)
	require.NotNil(t, msft)
	assert.Equal(t, "100", aapl.ClosePrice.String())
	assert.Equal(t, "300", msft.ClosePrice.String())
}

func TestLiveBars(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	agg.OnTick(tradeTick("AAPL", "100", ts))

	t.Run("matching timeframe", func(t *testing.T) {
		bars, err := agg.LiveBars(context.Background(), "AAPL", entity.Timeframe1m)
		require.NoError(t, err)
		require.Len(t, bars, 1)
		assert.Equal(t, ts, bars[0].BucketStart)
	})

	t.Run("other timeframe", func(t *testing.T) {
		bars, err := agg.LiveBars(context.Background(), "AAPL", entity.Timeframe5m)
		require.NoError(t, err)
		assert.Empty(t, bars)
	})

	t.Run("unknown instrument", func(t *testing.T) {
		bars, err := agg.LiveBars(context.Background(), "TSLA", entity.Timeframe1m)
		require.NoError(t, err)
		assert.Empty(t, bars)
	})
}

func TestCurrentBarReturnsCopy(t *testing.T) {
	agg, err := New(entity.Timeframe1m)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	agg.OnTick(tradeTick("AAPL", "100", ts))

	bar := agg.CurrentBar("AAPL")
	require.NotNil(t, bar)
	bar.ClosePrice = decimal.NewFromInt(1)

	again := agg.CurrentBar("AAPL")
	require.NotNil(t, again)
	assert.Equal(t, "100", again.ClosePrice.String())
}
