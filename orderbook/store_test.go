package orderbook

import (
	"errors"
	"fmt"
	"testing"

	"bookview/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const market = "PI_XBTUSD"

func newLiveStore(t *testing.T, levelCap int, bids, asks []models.LevelUpdate) *Store {
	t.Helper()
	s := NewStore(levelCap)
	require.NoError(t, s.Subscribe(market, dec("0.5")))
	_, err := s.OnSnapshot(models.Snapshot{Market: market, NumLevels: levelCap, Bids: bids, Asks: asks})
	require.NoError(t, err)
	return s
}

func TestStoreNoDataBeforeSnapshot(t *testing.T) {
	s := NewStore(25)
	require.NoError(t, s.Subscribe(market, dec("0.5")))
	assert.Equal(t, StateUninitialized, s.State())

	_, ok := s.GroupedLevels(Bid)
	assert.False(t, ok)
	_, ok = s.Spread()
	assert.False(t, ok)
	_, ok = s.BookView(Ask)
	assert.False(t, ok)

	_, err := s.OnDelta(models.Delta{Market: market, Bids: updates([2]string{"100", "1"})})
	assert.ErrorIs(t, err, ErrNotSnapshotted)
}

func TestStoreSnapshotThenDeltaReplace(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}, [2]string{"99", "3"}), updates([2]string{"100.5", "1"}))
	assert.Equal(t, StateSnapshotted, s.State())

	bids, ok := s.GroupedLevels(Bid)
	require.True(t, ok)
	assert.Equal(t, []string{"5", "8"}, totalsOf(bids))
	assert.True(t, s.MaxTotal(Bid).Equal(dec("8")))
	assert.Equal(t, []string{"62.50", "100.00"}, depthsOf(bids))

	res, err := s.OnDelta(models.Delta{Market: market, Bids: updates([2]string{"99", "7"}), HasBids: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Bids.Updated)
	assert.Equal(t, StateLive, s.State())

	bids, _ = s.GroupedLevels(Bid)
	assert.Equal(t, []string{"7"}, sizesOf(bids[1:]))
	assert.Equal(t, []string{"5", "12"}, totalsOf(bids))
	assert.Equal(t, []string{"41.67", "100.00"}, depthsOf(bids))

	raw, _ := s.RawLevels(Bid)
	assert.Equal(t, []string{"5", "7"}, sizesOf(raw))
}

func TestStoreRemovalBelowCapIgnored(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}, [2]string{"99", "3"}), nil)
	stats, err := s.ApplySideDeltas(market, Bid, updates([2]string{"99", "0"}))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IgnoredRemovals)

	bids, _ := s.GroupedLevels(Bid)
	assert.Equal(t, []string{"100", "99"}, pricesOf(bids))
	raw, _ := s.RawLevels(Bid)
	assert.Len(t, raw, 2)
}

func TestStoreInsertBeyondCapIgnored(t *testing.T) {
	const levelCap = 5
	var asks [][2]string
	for i := 0; i < levelCap; i++ {
		asks = append(asks, [2]string{fmt.Sprintf("%d", 101+i), "1"})
	}
	s := newLiveStore(t, levelCap, nil, updates(asks...))
	before, _ := s.GroupedLevels(Ask)
	require.Len(t, before, levelCap)

	stats, err := s.ApplySideDeltas(market, Ask, updates([2]string{"100.5", "3"}))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.IgnoredInserts)

	after, _ := s.GroupedLevels(Ask)
	assert.Len(t, after, levelCap)
	assert.Equal(t, pricesOf(before), pricesOf(after))
}

func TestStoreSnapshotTruncatedToCap(t *testing.T) {
	s := newLiveStore(t, 2,
		updates([2]string{"98", "1"}, [2]string{"100", "1"}, [2]string{"99", "1"}),
		updates([2]string{"101", "1"}, [2]string{"bad", "1"}, [2]string{"102", "0"}),
	)
	raw, _ := s.RawLevels(Bid)
	assert.Equal(t, []string{"100", "99"}, pricesOf(raw), "best levels are kept")
	asks, _ := s.GroupedLevels(Ask)
	assert.Equal(t, []string{"101"}, pricesOf(asks))
}

func TestStoreRejectsStaleMarket(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}), updates([2]string{"101", "5"}))

	_, err := s.OnDelta(models.Delta{Market: "PI_ETHUSD", Bids: updates([2]string{"100", "9"})})
	assert.True(t, errors.Is(err, ErrStaleMarket))
	_, err = s.ApplySideDeltas("PI_ETHUSD", Ask, updates([2]string{"101", "9"}))
	assert.ErrorIs(t, err, ErrStaleMarket)
	_, err = s.OnSnapshot(models.Snapshot{Market: "PI_ETHUSD"})
	assert.ErrorIs(t, err, ErrStaleMarket)

	bids, _ := s.GroupedLevels(Bid)
	assert.Equal(t, []string{"5"}, sizesOf(bids))
	asks, _ := s.GroupedLevels(Ask)
	assert.Equal(t, []string{"5"}, sizesOf(asks))
}

func TestStoreDeltaWithoutMarketIsCorrelatedToActive(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}), nil)
	_, err := s.OnDelta(models.Delta{Bids: updates([2]string{"100", "6"})})
	require.NoError(t, err)
	bids, _ := s.GroupedLevels(Bid)
	assert.Equal(t, []string{"6"}, sizesOf(bids))
}

func TestStoreSetGroupingSizeRebuildsFromRaw(t *testing.T) {
	s := newLiveStore(t, 25,
		updates([2]string{"100.5", "1"}, [2]string{"100", "2"}, [2]string{"99.5", "3"}),
		updates([2]string{"101", "1"}, [2]string{"101.5", "2"}),
	)
	require.NoError(t, s.SetGroupingSize(dec("1")))
	assert.True(t, s.GroupingSize().Equal(dec("1")))

	bids, _ := s.GroupedLevels(Bid)
	assert.Equal(t, []string{"100", "99"}, pricesOf(bids))
	assert.Equal(t, []string{"3", "6"}, totalsOf(bids))
	assertMonotonic(t, Bid, bids)

	asks, _ := s.GroupedLevels(Ask)
	assert.Equal(t, []string{"101", "102"}, pricesOf(asks))

	// Going back to the finer tick restores the raw precision.
	require.NoError(t, s.SetGroupingSize(dec("0.5")))
	bids, _ = s.GroupedLevels(Bid)
	assert.Equal(t, []string{"100.5", "100", "99.5"}, pricesOf(bids))
}

func TestStoreInvalidGroupingLeavesStateUnchanged(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100.5", "1"}, [2]string{"100", "2"}), nil)
	before, _ := s.GroupedLevels(Bid)

	for _, tick := range []string{"0", "-1"} {
		err := s.SetGroupingSize(dec(tick))
		assert.ErrorIs(t, err, ErrInvalidTickSize)
	}
	assert.True(t, s.GroupingSize().Equal(dec("0.5")))
	after, _ := s.GroupedLevels(Bid)
	assert.Equal(t, pricesOf(before), pricesOf(after))
	assert.Equal(t, totalsOf(before), totalsOf(after))
}

func TestStoreSubscribeDiscardsPreviousMarket(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}), updates([2]string{"101", "5"}))
	require.NoError(t, s.Subscribe("PI_ETHUSD", dec("0.05")))

	assert.Equal(t, "PI_ETHUSD", s.Market())
	assert.Equal(t, StateUninitialized, s.State())
	_, ok := s.GroupedLevels(Bid)
	assert.False(t, ok)

	_, err := s.OnDelta(models.Delta{Market: market, Bids: updates([2]string{"100", "1"})})
	assert.ErrorIs(t, err, ErrStaleMarket)

	assert.ErrorIs(t, s.Subscribe("", dec("1")), ErrNoMarket)
	assert.ErrorIs(t, s.Subscribe("X", dec("0")), ErrInvalidTickSize)
}

func TestStoreClose(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}), nil)
	s.Close()
	assert.Equal(t, StateClosed, s.State())

	_, ok := s.GroupedLevels(Bid)
	assert.False(t, ok)
	_, err := s.OnDelta(models.Delta{Market: market})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SetGroupingSize(dec("1")), ErrClosed)
}

func TestStoreCapAndDepthInvariantsAcrossBatches(t *testing.T) {
	const levelCap = 8
	s := newLiveStore(t, levelCap,
		updates([2]string{"100", "1"}, [2]string{"99.5", "2"}, [2]string{"99", "3"}),
		updates([2]string{"100.5", "1"}, [2]string{"101", "2"}),
	)
	for i := 0; i < 40; i++ {
		p := 95 + (i*7)%12
		bid := fmt.Sprintf("%d.%d", p, (i%2)*5)
		ask := fmt.Sprintf("%d.%d", p+6, (i%3)*3)
		size := fmt.Sprintf("%d", i%4)
		_, err := s.OnDelta(models.Delta{
			Market: market,
			Bids:   updates([2]string{bid, size}),
			Asks:   updates([2]string{ask, size}),
		})
		require.NoError(t, err)

		for _, side := range []Side{Bid, Ask} {
			lv, ok := s.GroupedLevels(side)
			require.True(t, ok)
			require.LessOrEqual(t, len(lv), levelCap)
			assertMonotonic(t, side, lv)
		}
	}
}

func TestStoreBookView(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100", "5"}, [2]string{"99", "3"}), nil)
	view, ok := s.BookView(Bid)
	require.True(t, ok)
	assert.Equal(t, market, view.Market)
	assert.Equal(t, "bid", view.Side)
	assert.Equal(t, "0.5", view.GroupingSize)
	assert.Equal(t, "8", view.MaxTotal)
	require.Len(t, view.Levels, 2)
	assert.Equal(t, models.LevelView{Price: "100", Size: "5", Total: "5", Depth: "62.50"}, view.Levels[0])
}

func TestStoreDeltaRefreshesWholeBucket(t *testing.T) {
	s := newLiveStore(t, 25, updates([2]string{"100.5", "1"}, [2]string{"100", "2"}, [2]string{"99", "1"}), nil)
	require.NoError(t, s.SetGroupingSize(dec("1")))

	_, err := s.ApplySideDeltas(market, Bid, updates([2]string{"100.5", "4"}, [2]string{"100.5", "5"}))
	require.NoError(t, err)

	bids, _ := s.GroupedLevels(Bid)
	assert.Equal(t, []string{"100", "99"}, pricesOf(bids))
	assert.Equal(t, []string{"7", "1"}, sizesOf(bids), "bucket is the sum of its raw levels, last update wins")
	assert.Equal(t, []string{"7", "8"}, totalsOf(bids))
	assertMonotonic(t, Bid, bids)
}
