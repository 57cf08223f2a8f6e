package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBar() Bar {
	return Bar{
		InstrumentID: "AAPL",
		Timeframe:    Timeframe1m,
		BucketStart:  time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
		OpenPrice:    decimal.NewFromInt(100),
		HighPrice:    decimal.NewFromInt(102),
		LowPrice:     decimal.NewFromInt(99),
		ClosePrice:   decimal.NewFromInt(101),
		Volume:       decimal.NewFromInt(10),
		IsFinal:      true,
	}
}

func TestBarValidate(t *testing.T) {
	require.NoError(t, validBar().Validate())

	t.Run("missing instrument", func(t *testing.T) {
		bar := validBar()
		bar.InstrumentID = ""
		require.Error(t, bar.Validate())
	})

	t.Run("unknown timeframe", func(t *testing.T) {
		bar := validBar()
		bar.Timeframe = "7m"
		require.Error(t, bar.Validate())
	})

	t.Run("zero bucket start", func(t *testing.T) {
		bar := validBar()
		bar.BucketStart = time.Time{}
		require.Error(t, bar.Validate())
	})

	t.Run("non-positive price", func(t *testing.T) {
		bar := validBar()
		bar.OpenPrice = decimal.Zero
		require.Error(t, bar.Validate())
	})

	t.Run("high below body", func(t *testing.T) {
		bar := validBar()
		bar.HighPrice = decimal.NewFromInt(100)
		require.Error(t, bar.Validate())
	})

	t.Run("low above body", func(t *testing.T) {
		bar := validBar()
		bar.LowPrice = decimal.NewFromInt(101)
		require.Error(t, bar.Validate())
	})

	t.Run("negative volume", func(t *testing.T) {
		bar := validBar()
		bar.Volume = decimal.NewFromInt(-1)
		require.Error(t, bar.Validate())
	})

	t.Run("zero volume is allowed", func(t *testing.T) {
		bar := validBar()
		bar.Volume = decimal.Zero
		require.NoError(t, bar.Validate())
	})
}

func TestTickEffectivePrice(t *testing.T) {
	d := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}

	t.Run("last wins", func(t *testing.T) {
		tick := Tick{Last: d("101"), Bid: d("100"), Ask: d("102")}
		price, ok := tick.EffectivePrice()
		require.True(t, ok)
		assert.Equal(t, "101", price.String())
	})

	t.Run("bid ask midpoint", func(t *testing.T) {
		tick := Tick{Bid: d("100"), Ask: d("101")}
		price, ok := tick.EffectivePrice()
		require.True(t, ok)
		assert.Equal(t, "100.5", price.String())
	})

	t.Run("one-sided quote is unusable", func(t *testing.T) {
		_, ok := Tick{Bid: d("100")}.EffectivePrice()
		assert.False(t, ok)
		_, ok = Tick{Ask: d("100")}.EffectivePrice()
		assert.False(t, ok)
	})

	t.Run("empty tick is unusable", func(t *testing.T) {
		_, ok := Tick{}.EffectivePrice()
		assert.False(t, ok)
	})
}

func TestBucketStartFor(t *testing.T) {
	ts := time.Date(2026, 1, 15, 9, 37, 42, 123, time.UTC)

	assert.Equal(t, time.Date(2026, 1, 15, 9, 37, 0, 0, time.UTC), BucketStartFor(ts, time.Minute))
	assert.Equal(t, time.Date(2026, 1, 15, 9, 35, 0, 0, time.UTC), BucketStartFor(ts, 5*time.Minute))
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), BucketStartFor(ts, time.Hour))
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), BucketStartFor(ts, 24*time.Hour))

	// Non-UTC inputs land on the same UTC boundary.
	jakarta := time.FixedZone("WIB", 7*3600)
	local := ts.In(jakarta)
	assert.Equal(t, BucketStartFor(ts, time.Minute), BucketStartFor(local, time.Minute))
}

func TestTimeframeDuration(t *testing.T) {
	for timeframe, want := range map[Timeframe]time.Duration{
		Timeframe1m:  time.Minute,
		Timeframe5m:  5 * time.Minute,
		Timeframe15m: 15 * time.Minute,
		Timeframe1h:  time.Hour,
		Timeframe4h:  4 * time.Hour,
		Timeframe1d:  24 * time.Hour,
	} {
		d, ok := timeframe.Duration()
		require.True(t, ok, timeframe)
		assert.Equal(t, want, d)
		assert.True(t, timeframe.Valid())
	}

	_, ok := Timeframe("2m").Duration()
	assert.False(t, ok)
	assert.False(t, Timeframe("2m").Valid())
}
