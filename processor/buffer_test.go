package processor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookview/models"
	"bookview/orderbook"
)

func makeUpdates(n int, start int) []models.LevelUpdate {
	out := make([]models.LevelUpdate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.LevelUpdate{Price: fmt.Sprintf("%d", start+i), Size: "1"})
	}
	return out
}

func TestBufferFlushesAboveCap(t *testing.T) {
	b := NewAccumulationBuffer("PI_XBTUSD", orderbook.Bid, orderbook.NewCapPolicy(25))

	_, flushed := b.Add(makeUpdates(20, 0), true)
	assert.False(t, flushed)
	_, flushed = b.Add(makeUpdates(5, 20), true)
	assert.False(t, flushed, "25 pending is not above the cap")
	assert.Equal(t, 25, b.Pending())

	f, flushed := b.Add(makeUpdates(1, 25), true)
	require.True(t, flushed)
	assert.Len(t, f.Updates, 26)
	assert.Equal(t, "0", f.Updates[0].Price)
	assert.Equal(t, "25", f.Updates[25].Price, "arrival order is kept")
	assert.Equal(t, "PI_XBTUSD", f.Market)
	assert.Equal(t, orderbook.Bid, f.Side)
	assert.NotEmpty(t, f.BatchID)
	assert.Zero(t, b.Pending())
}

func TestBufferNeverDropsEntries(t *testing.T) {
	b := NewAccumulationBuffer("PI_XBTUSD", orderbook.Ask, orderbook.NewCapPolicy(3))
	var released int
	for i := 0; i < 10; i++ {
		if f, ok := b.Add(makeUpdates(2, i*2), true); ok {
			released += len(f.Updates)
		}
	}
	if f, ok := b.Drain(); ok {
		released += len(f.Updates)
	}
	assert.Equal(t, 20, released)
}

func TestBufferAdmissionIsAsymmetric(t *testing.T) {
	policy := orderbook.NewCapPolicy(1)

	bids := NewAccumulationBuffer("M", orderbook.Bid, policy)
	_, _ = bids.Add(nil, true)
	_, _ = bids.Add([]models.LevelUpdate{}, true)
	assert.Zero(t, bids.Pending())

	asks := NewAccumulationBuffer("M", orderbook.Ask, policy)
	_, flushed := asks.Add([]models.LevelUpdate{}, true)
	assert.False(t, flushed)
	_, flushed = asks.Add(makeUpdates(1, 0), false)
	assert.False(t, flushed)
	assert.Zero(t, asks.Pending(), "absent ask list is not admitted")
}

func TestBufferResetDiscardsPending(t *testing.T) {
	b := NewAccumulationBuffer("PI_XBTUSD", orderbook.Bid, orderbook.NewCapPolicy(25))
	b.Add(makeUpdates(3, 0), true)
	b.Reset("PI_ETHUSD")

	assert.Zero(t, b.Pending())
	assert.Equal(t, "PI_ETHUSD", b.Market())
	_, ok := b.Drain()
	assert.False(t, ok)
}
