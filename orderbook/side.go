package orderbook

import (
	"sort"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const btreeDegree = 8

// BookSide is one side of one market's book. Levels are kept in a btree
// ordered best price first, so an in-order walk is the best-to-worst
// traversal used by aggregation.
type BookSide struct {
	side     Side
	policy   CapPolicy
	levels   *btree.BTreeG[*PriceLevel]
	maxTotal decimal.Decimal
}

// NewBookSide returns an empty side governed by policy.
func NewBookSide(side Side, policy CapPolicy) *BookSide {
	return &BookSide{
		side:   side,
		policy: policy,
		levels: btree.NewG[*PriceLevel](btreeDegree, func(a, b *PriceLevel) bool {
			return side.ranksBefore(a.Price, b.Price)
		}),
	}
}

// Side returns the direction of the book this side holds.
func (b *BookSide) Side() Side { return b.side }

// Len returns the number of levels held.
func (b *BookSide) Len() int { return b.levels.Len() }

// MaxTotal is the cumulative total of the worst level after the last
// aggregation, the denominator of every depth percentage.
func (b *BookSide) MaxTotal() decimal.Decimal { return b.maxTotal }

// Levels returns a copy of the levels, best price first.
func (b *BookSide) Levels() []PriceLevel {
	out := make([]PriceLevel, 0, b.levels.Len())
	b.levels.Ascend(func(l *PriceLevel) bool {
		out = append(out, *l)
		return true
	})
	return out
}

// Get returns the level at exactly price p.
func (b *BookSide) Get(p decimal.Decimal) (PriceLevel, bool) {
	l, ok := b.levels.Get(&PriceLevel{Price: p})
	if !ok {
		return PriceLevel{}, false
	}
	return *l, true
}

// Replace discards every level and loads levels as-is. Derived fields are
// dropped; call Aggregate afterwards. The cap is not applied here.
func (b *BookSide) Replace(levels []PriceLevel) {
	b.levels.Clear(false)
	b.maxTotal = decimal.Zero
	for _, l := range levels {
		lvl := NewLevel(l.Price, l.Size)
		b.levels.ReplaceOrInsert(&lvl)
	}
}

// Clear empties the side.
func (b *BookSide) Clear() {
	b.Replace(nil)
}

// BucketSize sums the sizes of the levels that fall into bucket at tick.
func (b *BookSide) BucketSize(bucket, tick decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	b.levels.Ascend(func(l *PriceLevel) bool {
		if BucketPrice(b.side, l.Price, tick).Equal(bucket) {
			sum = sum.Add(l.Size)
		}
		return true
	})
	return sum
}

// invalidateFrom drops derived fields on the level at p and every worse one.
func (b *BookSide) invalidateFrom(p decimal.Decimal) {
	b.levels.AscendGreaterOrEqual(&PriceLevel{Price: p}, func(l *PriceLevel) bool {
		l.invalidate()
		return true
	})
}

// SortLevels orders levels best price first for side.
func SortLevels(side Side, levels []PriceLevel) {
	sort.SliceStable(levels, func(i, j int) bool {
		return side.ranksBefore(levels[i].Price, levels[j].Price)
	})
}
