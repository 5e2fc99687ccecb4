package processor

import (
	"time"

	"github.com/google/uuid"

	"bookview/models"
	"bookview/orderbook"
)

// Flush is one batch released by an AccumulationBuffer.
type Flush struct {
	BatchID   string
	Market    string
	Side      orderbook.Side
	Updates   []models.LevelUpdate
	FlushedAt time.Time
}

// AccumulationBuffer collects raw delta lists for one side of one market and
// releases them as a single batch once more than LevelCap entries are
// pending. Entries are never dropped; they are only delayed.
type AccumulationBuffer struct {
	market  string
	side    orderbook.Side
	policy  orderbook.CapPolicy
	pending []models.LevelUpdate
}

func NewAccumulationBuffer(market string, side orderbook.Side, policy orderbook.CapPolicy) *AccumulationBuffer {
	return &AccumulationBuffer{
		market:  market,
		side:    side,
		policy:  policy,
		pending: make([]models.LevelUpdate, 0, policy.LevelCap+1),
	}
}

// Add appends updates when the policy admits the list. present tells
// whether the list was on the wire at all. The returned Flush is valid only
// when the boolean is true.
func (b *AccumulationBuffer) Add(updates []models.LevelUpdate, present bool) (Flush, bool) {
	if !b.policy.AdmitBatch(b.side, len(updates), present) {
		return Flush{}, false
	}
	b.pending = append(b.pending, updates...)
	if !b.policy.ShouldFlush(len(b.pending)) {
		return Flush{}, false
	}
	return b.take(), true
}

// Drain releases whatever is pending, if anything.
func (b *AccumulationBuffer) Drain() (Flush, bool) {
	if len(b.pending) == 0 {
		return Flush{}, false
	}
	return b.take(), true
}

// Reset discards pending entries and rebinds the buffer to market.
func (b *AccumulationBuffer) Reset(market string) {
	b.market = market
	b.pending = b.pending[:0]
}

func (b *AccumulationBuffer) Pending() int { return len(b.pending) }

func (b *AccumulationBuffer) Market() string { return b.market }

func (b *AccumulationBuffer) Side() orderbook.Side { return b.side }

func (b *AccumulationBuffer) take() Flush {
	out := make([]models.LevelUpdate, len(b.pending))
	copy(out, b.pending)
	b.pending = b.pending[:0]
	return Flush{
		BatchID:   uuid.New().String(),
		Market:    b.market,
		Side:      b.side,
		Updates:   out,
		FlushedAt: time.Now(),
	}
}
