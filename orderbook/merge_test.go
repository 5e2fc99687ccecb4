package orderbook

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDeltasEmptyBatchIsNoop(t *testing.T) {
	b := sideWith(Bid, 25, [2]string{"100", "5"}, [2]string{"99", "3"})
	before := b.Levels()

	stats := b.ApplyDeltas(nil)
	assert.Equal(t, MergeStats{}, stats)
	stats = b.ApplyDeltas([]Delta{})
	assert.Equal(t, MergeStats{}, stats)

	after := b.Levels()
	assert.Equal(t, pricesOf(before), pricesOf(after))
	assert.Equal(t, sizesOf(before), sizesOf(after))
	assert.Equal(t, totalsOf(before), totalsOf(after))
	assert.Equal(t, depthsOf(before), depthsOf(after))
}

func TestApplyDeltasReplacesSize(t *testing.T) {
	b := sideWith(Bid, 25, [2]string{"100", "5"}, [2]string{"99", "3"})
	stats := b.ApplyDeltas(deltas([2]string{"99", "7"}))
	assert.Equal(t, 1, stats.Updated)

	lvl, ok := b.Get(dec("99"))
	require.True(t, ok)
	assert.True(t, lvl.Size.Equal(dec("7")), "size is replaced, not added")
	assert.False(t, lvl.Total.Valid, "changed level must be re-aggregated")

	best, ok := b.Get(dec("100"))
	require.True(t, ok)
	assert.True(t, best.Total.Valid, "better level keeps its total")
}

func TestApplyDeltasInsertsBelowCap(t *testing.T) {
	b := sideWith(Ask, 3, [2]string{"101", "1"})
	stats := b.ApplyDeltas(deltas([2]string{"102", "2"}, [2]string{"100.5", "4"}))
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, []string{"100.5", "101", "102"}, pricesOf(b.Levels()))
}

func TestApplyDeltasIgnoresInsertAtCap(t *testing.T) {
	b := sideWith(Bid, 2, [2]string{"100", "5"}, [2]string{"99", "3"})
	stats := b.ApplyDeltas(deltas([2]string{"98", "1"}, [2]string{"101", "1"}))
	assert.Equal(t, 2, stats.IgnoredInserts)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"100", "99"}, pricesOf(b.Levels()))
}

func TestApplyDeltasIgnoresRemovalAtOrBelowCap(t *testing.T) {
	b := sideWith(Bid, 25, [2]string{"100", "5"}, [2]string{"99", "3"})
	stats := b.ApplyDeltas(deltas([2]string{"99", "0"}))
	assert.Equal(t, 1, stats.IgnoredRemovals)
	assert.Equal(t, []string{"100", "99"}, pricesOf(b.Levels()))

	full := sideWith(Ask, 2, [2]string{"101", "1"}, [2]string{"102", "1"})
	stats = full.ApplyDeltas(deltas([2]string{"101", "0"}))
	assert.Equal(t, 1, stats.IgnoredRemovals)
	assert.Equal(t, 2, full.Len())
}

func TestApplyDeltasRemovesAboveCap(t *testing.T) {
	b := sideWith(Bid, 2, [2]string{"100", "5"}, [2]string{"99", "3"}, [2]string{"98", "1"})
	require.Equal(t, 3, b.Len())

	stats := b.ApplyDeltas(deltas([2]string{"99", "0"}, [2]string{"98", "0"}))
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, stats.IgnoredRemovals, "second removal meets the floor")
	assert.Equal(t, []string{"100", "98"}, pricesOf(b.Levels()))
}

func TestApplyDeltasSkipsMalformed(t *testing.T) {
	b := sideWith(Bid, 25, [2]string{"100", "5"}, [2]string{"99", "3"})
	in := deltas(
		[2]string{"", "1"},
		[2]string{"99", "nope"},
		[2]string{"100", "6"},
		[2]string{"-1", "2"},
		[2]string{"97", "-2"},
		[2]string{"98", "2"},
	)
	stats := b.ApplyDeltas(in)
	assert.Equal(t, 4, stats.Malformed)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, []string{"100", "99", "98"}, pricesOf(b.Levels()))
	assert.Equal(t, []string{"6", "3", "2"}, sizesOf(b.Levels()))
}

func TestCapInvariantHoldsForRandomBatches(t *testing.T) {
	const levelCap = 10
	rng := rand.New(rand.NewSource(7))
	for _, side := range []Side{Bid, Ask} {
		b := NewBookSide(side, NewCapPolicy(levelCap))
		for batch := 0; batch < 200; batch++ {
			n := rng.Intn(8)
			pairs := make([][2]string, 0, n)
			for i := 0; i < n; i++ {
				p := fmt.Sprintf("%d.%d", 90+rng.Intn(20), rng.Intn(2)*5)
				size := "0"
				if rng.Intn(3) > 0 {
					size = fmt.Sprintf("%d", 1+rng.Intn(50))
				}
				pairs = append(pairs, [2]string{p, size})
			}
			b.ApplyDeltas(deltas(pairs...))
			b.Aggregate()
			if b.Len() > levelCap {
				t.Fatalf("%s side holds %d levels after batch %d, cap %d", side, b.Len(), batch, levelCap)
			}
			assertMonotonic(t, side, b.Levels())
		}
	}
}
