package orderbook

import (
	"bookview/internal/price"
	"bookview/models"

	"github.com/shopspring/decimal"
)

// Spread is the gap between the best bid and the best ask.
type Spread struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Amount  decimal.Decimal
	Percent decimal.Decimal
}

// CalculateSpread derives the spread from grouped sides. The inputs need not
// be sorted. It reports false when either side is empty or the best bid is
// zero, rather than producing an undefined percentage.
func CalculateSpread(bids, asks []PriceLevel) (Spread, bool) {
	if len(bids) == 0 || len(asks) == 0 {
		return Spread{}, false
	}
	bestBid := bids[0].Price
	for _, l := range bids[1:] {
		if l.Price.GreaterThan(bestBid) {
			bestBid = l.Price
		}
	}
	bestAsk := asks[0].Price
	for _, l := range asks[1:] {
		if l.Price.LessThan(bestAsk) {
			bestAsk = l.Price
		}
	}
	if bestBid.IsZero() {
		return Spread{}, false
	}
	amount := bestBid.Sub(bestAsk).Abs()
	return Spread{
		BestBid: bestBid,
		BestAsk: bestAsk,
		Amount:  amount,
		Percent: price.Percent(amount, bestBid),
	}, true
}

// View renders the spread for the API.
func (s Spread) View(market string) models.SpreadView {
	return models.SpreadView{
		Market:  market,
		BestBid: s.BestBid.String(),
		BestAsk: s.BestAsk.String(),
		Amount:  s.Amount.String(),
		Percent: s.Percent.StringFixed(2),
	}
}
