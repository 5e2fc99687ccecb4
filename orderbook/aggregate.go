package orderbook

import (
	"bookview/internal/price"

	"github.com/shopspring/decimal"
)

// Aggregate fills in cumulative totals and depth percentages.
//
// Totals are summed best to worst. A level that still carries a total is
// trusted and its total becomes the running sum, which is sound because
// ApplyDeltas invalidates every level at or behind a change. MaxTotal is the
// worst level's total; when it moves, every cached depth is recomputed
// against the new value.
func (b *BookSide) Aggregate() {
	running := decimal.Zero
	b.levels.Ascend(func(l *PriceLevel) bool {
		if l.Total.Valid {
			running = l.Total.Decimal
			return true
		}
		running = running.Add(l.Size)
		l.Total = decimal.NullDecimal{Decimal: running, Valid: true}
		l.Depth = decimal.NullDecimal{}
		return true
	})

	resetDepth := !running.Equal(b.maxTotal)
	b.maxTotal = running

	b.levels.Ascend(func(l *PriceLevel) bool {
		if resetDepth || !l.Depth.Valid {
			l.Depth = decimal.NullDecimal{Decimal: price.Percent(l.Total.Decimal, running), Valid: true}
		}
		return true
	})
}
