package orderbook

import (
	"fmt"
	"sync"

	"bookview/internal/price"
	"bookview/models"

	"github.com/shopspring/decimal"
)

// State is the lifecycle position of a Store.
type State uint8

const (
	StateUninitialized State = iota
	StateSnapshotted
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSnapshotted:
		return "snapshotted"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DeltaResult reports what a delta message did to the raw sides.
type DeltaResult struct {
	Bids MergeStats
	Asks MergeStats
}

// Store owns the book of the single active market: raw sides at feed
// precision, grouped sides at the current grouping size, and their depth
// markers.
//
// Mutations are expected from one goroutine, in feed order. The lock only
// lets readers observe a consistent book while that goroutine works.
type Store struct {
	mu sync.RWMutex

	policy       CapPolicy
	market       string
	state        State
	groupingSize decimal.Decimal

	rawBids     *BookSide
	rawAsks     *BookSide
	groupedBids *BookSide
	groupedAsks *BookSide
}

// NewStore returns an uninitialized store with no market; call Subscribe
// before feeding it.
func NewStore(levelCap int) *Store {
	policy := NewCapPolicy(levelCap)
	return &Store{
		policy:      policy,
		state:       StateUninitialized,
		rawBids:     NewBookSide(Bid, policy),
		rawAsks:     NewBookSide(Ask, policy),
		groupedBids: NewBookSide(Bid, policy),
		groupedAsks: NewBookSide(Ask, policy),
	}
}

// Policy returns the cap policy shared by all sides of the store.
func (s *Store) Policy() CapPolicy { return s.policy }

// Subscribe starts a fresh book for market. Any previous market's levels are
// discarded in the same critical section, so readers never observe a mix.
func (s *Store) Subscribe(market string, groupingSize decimal.Decimal) error {
	if market == "" {
		return ErrNoMarket
	}
	if !price.ValidTick(groupingSize) {
		return fmt.Errorf("subscribe %s: %w", market, ErrInvalidTickSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.market = market
	s.groupingSize = groupingSize
	s.state = StateUninitialized
	s.rawBids.Clear()
	s.rawAsks.Clear()
	s.groupedBids.Clear()
	s.groupedAsks.Clear()
	return nil
}

// Close ends the subscription. The book is discarded and reads report no
// data until the next Subscribe.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateClosed
	s.rawBids.Clear()
	s.rawAsks.Clear()
	s.groupedBids.Clear()
	s.groupedAsks.Clear()
}

// OnSnapshot replaces both sides from a full snapshot. Each side keeps at
// most LevelCap levels, best first. The skipped return value counts
// malformed or empty pairs that were dropped.
func (s *Store) OnSnapshot(snap models.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMarket(snap.Market); err != nil {
		return 0, err
	}

	bids, skippedBids := ParseLevels(snap.Bids)
	asks, skippedAsks := ParseLevels(snap.Asks)
	s.loadRaw(s.rawBids, bids)
	s.loadRaw(s.rawAsks, asks)

	if err := s.regroup(s.groupingSize); err != nil {
		return 0, err
	}
	s.state = StateSnapshotted
	return skippedBids + skippedAsks, nil
}

// OnDelta applies both sides of a delta message at once, bypassing any
// accumulation buffer.
func (s *Store) OnDelta(delta models.Delta) (DeltaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res DeltaResult
	if err := s.checkLive(delta.Market); err != nil {
		return res, err
	}
	var err error
	if res.Bids, err = s.applySide(Bid, delta.Bids); err != nil {
		return res, err
	}
	if res.Asks, err = s.applySide(Ask, delta.Asks); err != nil {
		return res, err
	}
	s.state = StateLive
	return res, nil
}

// ApplySideDeltas applies one flushed buffer batch for market. A market
// other than the active one is rejected with ErrStaleMarket and nothing is
// merged.
func (s *Store) ApplySideDeltas(market string, side Side, updates []models.LevelUpdate) (MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLive(market); err != nil {
		return MergeStats{}, err
	}
	stats, err := s.applySide(side, updates)
	if err != nil {
		return stats, err
	}
	s.state = StateLive
	return stats, nil
}

// SetGroupingSize rebuilds the grouped sides from the raw sides at tick. An
// invalid tick is rejected before anything changes.
func (s *Store) SetGroupingSize(tick decimal.Decimal) error {
	if !price.ValidTick(tick) {
		return fmt.Errorf("set grouping size %s: %w", tick, ErrInvalidTickSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	if s.state == StateUninitialized {
		s.groupingSize = tick
		return nil
	}
	if err := s.regroup(tick); err != nil {
		return err
	}
	s.groupingSize = tick
	return nil
}

// GroupedLevels returns the display levels of side, best first. The boolean
// is false while there is no data to show.
func (s *Store) GroupedLevels(side Side) ([]PriceLevel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData() {
		return nil, false
	}
	return s.grouped(side).Levels(), true
}

// RawLevels returns the feed-precision levels of side, best first.
func (s *Store) RawLevels(side Side) ([]PriceLevel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData() {
		return nil, false
	}
	return s.raw(side).Levels(), true
}

// MaxTotal returns the depth denominator of the grouped side.
func (s *Store) MaxTotal(side Side) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grouped(side).MaxTotal()
}

// Spread derives the spread from the grouped sides.
func (s *Store) Spread() (Spread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData() {
		return Spread{}, false
	}
	return CalculateSpread(s.groupedBids.Levels(), s.groupedAsks.Levels())
}

// Market returns the active market.
func (s *Store) Market() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GroupingSize returns the active tick size.
func (s *Store) GroupingSize() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groupingSize
}

// BookView renders one grouped side for the API.
func (s *Store) BookView(side Side) (models.BookView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasData() {
		return models.BookView{}, false
	}
	g := s.grouped(side)
	levels := g.Levels()
	view := models.BookView{
		Market:       s.market,
		Side:         side.String(),
		GroupingSize: s.groupingSize.String(),
		MaxTotal:     g.MaxTotal().String(),
		Levels:       make([]models.LevelView, 0, len(levels)),
	}
	for _, l := range levels {
		view.Levels = append(view.Levels, l.View())
	}
	return view, true
}

func (s *Store) hasData() bool {
	return s.state == StateSnapshotted || s.state == StateLive
}

func (s *Store) checkMarket(market string) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.market == "" {
		return ErrNoMarket
	}
	if market != "" && market != s.market {
		return fmt.Errorf("market %q, active %q: %w", market, s.market, ErrStaleMarket)
	}
	return nil
}

func (s *Store) checkLive(market string) error {
	if err := s.checkMarket(market); err != nil {
		return err
	}
	if s.state == StateUninitialized {
		return ErrNotSnapshotted
	}
	return nil
}

func (s *Store) loadRaw(side *BookSide, levels []PriceLevel) {
	SortLevels(side.Side(), levels)
	if len(levels) > s.policy.LevelCap {
		levels = levels[:s.policy.LevelCap]
	}
	side.Replace(levels)
}

// regroup rebuilds both grouped sides from the raw sides. Both groupings
// are computed before either side is replaced.
func (s *Store) regroup(tick decimal.Decimal) error {
	bids, err := Group(Bid, s.rawBids.Levels(), tick)
	if err != nil {
		return err
	}
	asks, err := Group(Ask, s.rawAsks.Levels(), tick)
	if err != nil {
		return err
	}
	s.groupedBids.Replace(bids)
	s.groupedBids.Aggregate()
	s.groupedAsks.Replace(asks)
	s.groupedAsks.Aggregate()
	return nil
}

// applySide merges a raw batch into the raw side at feed precision, then
// refreshes every bucket the batch touched from the raw side so a grouped
// level always equals the sum of its raw levels. The returned stats describe
// the raw merge.
func (s *Store) applySide(side Side, updates []models.LevelUpdate) (MergeStats, error) {
	if len(updates) == 0 {
		return MergeStats{}, nil
	}
	raw := s.raw(side)
	deltas := ParseUpdates(updates)
	stats := raw.ApplyDeltas(deltas)

	buckets, _, err := GroupDeltas(side, deltas, s.groupingSize)
	if err != nil {
		return stats, err
	}
	for i := range buckets {
		buckets[i].Size = raw.BucketSize(buckets[i].Price, s.groupingSize)
	}
	g := s.grouped(side)
	g.ApplyDeltas(buckets)
	g.Aggregate()
	return stats, nil
}

func (s *Store) raw(side Side) *BookSide {
	if side == Bid {
		return s.rawBids
	}
	return s.rawAsks
}

func (s *Store) grouped(side Side) *BookSide {
	if side == Bid {
		return s.groupedBids
	}
	return s.groupedAsks
}
