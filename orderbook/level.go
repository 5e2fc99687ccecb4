package orderbook

import (
	"bookview/internal/price"
	"bookview/models"

	"github.com/shopspring/decimal"
)

// Side is one direction of the book.
type Side uint8

const (
	Bid Side = iota + 1
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// ParseSide accepts the plural and singular spellings used by the API.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "bid", "bids", "buy":
		return Bid, true
	case "ask", "asks", "sell":
		return Ask, true
	default:
		return 0, false
	}
}

// ranksBefore reports whether price a is closer to the best price than b.
// Bids rank high to low, asks low to high.
func (s Side) ranksBefore(a, b decimal.Decimal) bool {
	if s == Bid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// PriceLevel is one row of a side. Total and Depth are derived and stay
// unset until the side is aggregated.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	Total decimal.NullDecimal
	Depth decimal.NullDecimal
}

// NewLevel builds an unaggregated level.
func NewLevel(p, size decimal.Decimal) PriceLevel {
	return PriceLevel{Price: p, Size: size}
}

func (l *PriceLevel) invalidate() {
	l.Total = decimal.NullDecimal{}
	l.Depth = decimal.NullDecimal{}
}

// View renders the level for the API.
func (l PriceLevel) View() models.LevelView {
	v := models.LevelView{
		Price: l.Price.String(),
		Size:  l.Size.String(),
	}
	if l.Total.Valid {
		v.Total = l.Total.Decimal.String()
	}
	if l.Depth.Valid {
		v.Depth = l.Depth.Decimal.StringFixed(2)
	}
	return v
}

// Delta is a parsed upsert-or-remove instruction for one price.
type Delta struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	ok    bool
}

// NewDelta builds a well-formed delta.
func NewDelta(p, size decimal.Decimal) Delta {
	return Delta{Price: p, Size: size, ok: true}
}

// Valid reports whether the delta can be applied: it parsed, the price is
// positive and the size is not negative.
func (d Delta) Valid() bool {
	return d.ok && d.Price.IsPositive() && !d.Size.IsNegative()
}

// ParseUpdates converts raw feed pairs to deltas. Malformed pairs are kept
// in place as invalid deltas so the merge engine can skip and count them.
func ParseUpdates(updates []models.LevelUpdate) []Delta {
	out := make([]Delta, 0, len(updates))
	for _, u := range updates {
		p, err1 := price.Parse(u.Price)
		size, err2 := price.Parse(u.Size)
		if err1 != nil || err2 != nil {
			out = append(out, Delta{})
			continue
		}
		out = append(out, NewDelta(p, size))
	}
	return out
}

// ParseLevels converts snapshot pairs to levels, skipping malformed pairs
// and zero sizes. The second return value counts skipped pairs.
func ParseLevels(updates []models.LevelUpdate) ([]PriceLevel, int) {
	out := make([]PriceLevel, 0, len(updates))
	skipped := 0
	for _, d := range ParseUpdates(updates) {
		if !d.Valid() || d.Size.IsZero() {
			skipped++
			continue
		}
		out = append(out, NewLevel(d.Price, d.Size))
	}
	return out, skipped
}
