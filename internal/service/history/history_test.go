package history

import (
	"testing"
	"time"

	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func barAt(bucketStart time.Time) entity.Bar {
	price := decimal.NewFromInt(100)
	return entity.Bar{
		InstrumentID: "AAPL",
		Timeframe:    entity.Timeframe1m,
		BucketStart:  bucketStart,
		OpenPrice:    price,
		HighPrice:    price,
		LowPrice:     price,
		ClosePrice:   price,
		Volume:       decimal.NewFromInt(1),
		IsFinal:      true,
	}
}

func TestDetectGaps(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	interval := time.Minute

	t.Run("empty cache is one gap covering the window", func(t *testing.T) {
		gaps := DetectGaps(nil, base, base.Add(5*interval), interval)
		assert.Equal(t, []entity.Gap{{Start: base, End: base.Add(5 * interval)}}, gaps)
	})

	t.Run("full coverage has no gaps", func(t *testing.T) {
		bars := []entity.Bar{
			barAt(base),
			barAt(base.Add(interval)),
			barAt(base.Add(2 * interval)),
		}
		gaps := DetectGaps(bars, base, base.Add(3*interval), interval)
		assert.Empty(t, gaps)
	})

	t.Run("leading interior and trailing gaps", func(t *testing.T) {
		// Covered: [1m,2m) and [3m,4m) in the window [0,5m).
		bars := []entity.Bar{
			barAt(base.Add(interval)),
			barAt(base.Add(3 * interval)),
		}
		gaps := DetectGaps(bars, base, base.Add(5*interval), interval)
		assert.Equal(t, []entity.Gap{
			{Start: base, End: base.Add(interval)},
			{Start: base.Add(2 * interval), End: base.Add(3 * interval)},
			{Start: base.Add(4 * interval), End: base.Add(5 * interval)},
		}, gaps)
	})

	t.Run("interior gap spanning multiple buckets", func(t *testing.T) {
		// Covered: [0,1m) and [3m,4m); the whole of [1m,3m) is missing.
		bars := []entity.Bar{
			barAt(base),
			barAt(base.Add(3 * interval)),
		}
		gaps := DetectGaps(bars, base, base.Add(4*interval), interval)
		assert.Equal(t, []entity.Gap{
			{Start: base.Add(interval), End: base.Add(3 * interval)},
		}, gaps)
	})

	t.Run("degenerate window", func(t *testing.T) {
		assert.Nil(t, DetectGaps(nil, base, base, interval))
		assert.Nil(t, DetectGaps(nil, base.Add(interval), base, interval))
	})
}
