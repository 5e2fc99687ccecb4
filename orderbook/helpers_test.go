package orderbook

import (
	"testing"

	"bookview/internal/price"
	"bookview/models"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return price.MustParse(s)
}

func updates(pairs ...[2]string) []models.LevelUpdate {
	out := make([]models.LevelUpdate, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, models.LevelUpdate{Price: p[0], Size: p[1]})
	}
	return out
}

func deltas(pairs ...[2]string) []Delta {
	return ParseUpdates(updates(pairs...))
}

func levels(pairs ...[2]string) []PriceLevel {
	out := make([]PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, NewLevel(dec(p[0]), dec(p[1])))
	}
	return out
}

func sideWith(side Side, levelCap int, pairs ...[2]string) *BookSide {
	b := NewBookSide(side, NewCapPolicy(levelCap))
	b.Replace(levels(pairs...))
	b.Aggregate()
	return b
}

// assertMonotonic checks the ordering, total and depth invariants of a side.
func assertMonotonic(t *testing.T, side Side, lv []PriceLevel) {
	t.Helper()
	hundred := decimal.NewFromInt(100)
	for i, l := range lv {
		if !l.Total.Valid || !l.Depth.Valid {
			t.Fatalf("level %d (%s) missing derived fields", i, l.Price)
		}
		if l.Depth.Decimal.IsNegative() || l.Depth.Decimal.GreaterThan(hundred) {
			t.Fatalf("level %d depth out of bounds: %s", i, l.Depth.Decimal)
		}
		if i == 0 {
			continue
		}
		prev := lv[i-1]
		if !side.ranksBefore(prev.Price, l.Price) {
			t.Fatalf("levels %d/%d out of order: %s then %s", i-1, i, prev.Price, l.Price)
		}
		if prev.Total.Decimal.GreaterThan(l.Total.Decimal) {
			t.Fatalf("total decreased at %d: %s > %s", i, prev.Total.Decimal, l.Total.Decimal)
		}
		if prev.Depth.Decimal.GreaterThan(l.Depth.Decimal) {
			t.Fatalf("depth decreased at %d: %s > %s", i, prev.Depth.Decimal, l.Depth.Decimal)
		}
	}
	if n := len(lv); n > 0 && !lv[n-1].Depth.Decimal.Equal(hundred) {
		t.Fatalf("worst level depth = %s, want 100", lv[n-1].Depth.Decimal)
	}
}

func pricesOf(lv []PriceLevel) []string {
	out := make([]string, 0, len(lv))
	for _, l := range lv {
		out = append(out, l.Price.String())
	}
	return out
}

func sizesOf(lv []PriceLevel) []string {
	out := make([]string, 0, len(lv))
	for _, l := range lv {
		out = append(out, l.Size.String())
	}
	return out
}

func totalsOf(lv []PriceLevel) []string {
	out := make([]string, 0, len(lv))
	for _, l := range lv {
		out = append(out, l.Total.Decimal.String())
	}
	return out
}

func depthsOf(lv []PriceLevel) []string {
	out := make([]string, 0, len(lv))
	for _, l := range lv {
		out = append(out, l.Depth.Decimal.StringFixed(2))
	}
	return out
}
