package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTick(t *testing.T) {
	t.Run("trade frame", func(t *testing.T) {
		tick, err := ParseTick([]byte(`{"type":"trade","instrument":"AAPL","last":"101.25","size":"10","ts":1768465800000}`))
		require.NoError(t, err)
		require.NotNil(t, tick)

		assert.Equal(t, "AAPL", tick.InstrumentID)
		require.NotNil(t, tick.Last)
		assert.Equal(t, "101.25", tick.Last.String())
		require.NotNil(t, tick.Size)
		assert.Equal(t, "10", tick.Size.String())
		assert.Equal(t, time.UnixMilli(1768465800000).UTC(), tick.Timestamp)
	})

	t.Run("quote frame without last", func(t *testing.T) {
		tick, err := ParseTick([]byte(`{"type":"quote","instrument":"AAPL","bid":"100","ask":"101"}`))
		require.NoError(t, err)
		require.NotNil(t, tick)

		assert.Nil(t, tick.Last)
		require.NotNil(t, tick.Bid)
		require.NotNil(t, tick.Ask)
		price, ok := tick.EffectivePrice()
		require.True(t, ok)
		assert.Equal(t, "100.5", price.String())
	})

	t.Run("missing timestamp defaults to now", func(t *testing.T) {
		before := time.Now().UTC()
		tick, err := ParseTick([]byte(`{"type":"tick","instrument":"AAPL","last":"1"}`))
		require.NoError(t, err)
		require.NotNil(t, tick)
		assert.False(t, tick.Timestamp.Before(before))
	})

	t.Run("non-tick frames are ignored", func(t *testing.T) {
		for _, frame := range []string{
			`{"type":"ack","channel":"quote","instrument":"AAPL"}`,
			`{"type":"heartbeat"}`,
			`{}`,
		} {
			tick, err := ParseTick([]byte(frame))
			require.NoError(t, err, frame)
			assert.Nil(t, tick, frame)
		}
	})

	t.Run("missing instrument", func(t *testing.T) {
		_, err := ParseTick([]byte(`{"type":"trade","last":"1"}`))
		require.Error(t, err)
	})

	t.Run("malformed price", func(t *testing.T) {
		_, err := ParseTick([]byte(`{"type":"trade","instrument":"AAPL","last":"oops"}`))
		require.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseTick([]byte(`{`))
		require.Error(t, err)
	})
}
