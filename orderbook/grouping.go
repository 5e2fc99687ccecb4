package orderbook

import (
	"fmt"

	"bookview/internal/price"

	"github.com/shopspring/decimal"
)

// BucketPrice maps a raw price onto its grouping bucket. Bids round down and
// asks round up, so a displayed price never overstates the liquidity
// available at that price.
func BucketPrice(side Side, p, tick decimal.Decimal) decimal.Decimal {
	if side == Bid {
		return price.FloorToTick(p, tick)
	}
	return price.CeilToTick(p, tick)
}

type bucket struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// groupPairs buckets (price, size) pairs and sums sizes per bucket. Bucket
// order follows first appearance; callers sort when they need to.
func groupPairs(side Side, tick decimal.Decimal, n int, at func(i int) (decimal.Decimal, decimal.Decimal, bool)) []bucket {
	index := make(map[string]int, n)
	out := make([]bucket, 0, n)
	for i := 0; i < n; i++ {
		p, size, ok := at(i)
		if !ok {
			continue
		}
		bp := BucketPrice(side, p, tick)
		key := price.Key(bp)
		if j, seen := index[key]; seen {
			out[j].size = out[j].size.Add(size)
			continue
		}
		index[key] = len(out)
		out = append(out, bucket{price: bp, size: size})
	}
	return out
}

// Group quantizes raw levels into tick-sized buckets and merges levels that
// land in the same bucket by summing their sizes. The result is sorted best
// price first and carries no derived fields. Group is pure and idempotent:
// Group(Group(l, t), t) equals Group(l, t).
func Group(side Side, levels []PriceLevel, tick decimal.Decimal) ([]PriceLevel, error) {
	if !price.ValidTick(tick) {
		return nil, fmt.Errorf("group %s levels by %s: %w", side, tick, ErrInvalidTickSize)
	}
	buckets := groupPairs(side, tick, len(levels), func(i int) (decimal.Decimal, decimal.Decimal, bool) {
		return levels[i].Price, levels[i].Size, true
	})
	out := make([]PriceLevel, 0, len(buckets))
	for _, bk := range buckets {
		out = append(out, NewLevel(bk.price, bk.size))
	}
	SortLevels(side, out)
	return out, nil
}

// GroupDeltas normalizes a raw delta batch into bucket space so it can be
// merged into a grouped side. Deltas sharing a bucket are summed, so a
// bucket whose deltas are all zero stays a removal. Malformed deltas are
// dropped here and reported by the second return value. Bucket order
// follows the first arrival of each bucket in the batch.
func GroupDeltas(side Side, deltas []Delta, tick decimal.Decimal) ([]Delta, int, error) {
	if !price.ValidTick(tick) {
		return nil, 0, fmt.Errorf("group %s deltas by %s: %w", side, tick, ErrInvalidTickSize)
	}
	malformed := 0
	buckets := groupPairs(side, tick, len(deltas), func(i int) (decimal.Decimal, decimal.Decimal, bool) {
		if !deltas[i].Valid() {
			malformed++
			return decimal.Zero, decimal.Zero, false
		}
		return deltas[i].Price, deltas[i].Size, true
	})
	out := make([]Delta, 0, len(buckets))
	for _, bk := range buckets {
		out = append(out, NewDelta(bk.price, bk.size))
	}
	return out, malformed, nil
}
