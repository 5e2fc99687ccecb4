package orderbook

import "github.com/shopspring/decimal"

// MergeStats counts what a delta batch did to a side.
type MergeStats struct {
	Updated         int
	Inserted        int
	Removed         int
	IgnoredRemovals int
	IgnoredInserts  int
	Malformed       int
}

// Applied is the number of deltas that changed the side.
func (s MergeStats) Applied() int {
	return s.Updated + s.Inserted + s.Removed
}

// Ignored is the number of well-formed deltas dropped by the cap policy.
func (s MergeStats) Ignored() int {
	return s.IgnoredRemovals + s.IgnoredInserts
}

// Add accumulates o into s.
func (s *MergeStats) Add(o MergeStats) {
	s.Updated += o.Updated
	s.Inserted += o.Inserted
	s.Removed += o.Removed
	s.IgnoredRemovals += o.IgnoredRemovals
	s.IgnoredInserts += o.IgnoredInserts
	s.Malformed += o.Malformed
}

// ApplyDeltas merges deltas into the side in arrival order:
//   - size zero removes the level, but only when the policy admits removal;
//   - a known price has its size replaced;
//   - an unknown price is inserted when the policy admits insertion.
//
// Malformed deltas are skipped without aborting the batch. An empty batch
// leaves the side untouched, derived fields included. Levels at or worse
// than the best changed price lose their cumulative totals so the next
// Aggregate recomputes them; better levels keep theirs.
func (b *BookSide) ApplyDeltas(deltas []Delta) MergeStats {
	var (
		stats    MergeStats
		frontier decimal.Decimal
		touched  bool
	)
	mark := func(p decimal.Decimal) {
		if !touched || b.side.ranksBefore(p, frontier) {
			frontier = p
			touched = true
		}
	}

	for _, d := range deltas {
		if !d.Valid() {
			stats.Malformed++
			continue
		}
		key := &PriceLevel{Price: d.Price}
		existing, found := b.levels.Get(key)

		switch {
		case d.Size.IsZero():
			if !b.policy.AdmitRemoval(b.levels.Len()) {
				stats.IgnoredRemovals++
				continue
			}
			if !found {
				continue
			}
			b.levels.Delete(key)
			stats.Removed++
			mark(d.Price)
		case found:
			existing.Size = d.Size
			stats.Updated++
			mark(d.Price)
		default:
			if !b.policy.AdmitInsert(b.levels.Len()) {
				stats.IgnoredInserts++
				continue
			}
			lvl := NewLevel(d.Price, d.Size)
			b.levels.ReplaceOrInsert(&lvl)
			stats.Inserted++
			mark(d.Price)
		}
	}

	if touched {
		b.invalidateFrom(frontier)
	}
	return stats
}
