package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	appconfig "bookview/config"
	"bookview/internal/metrics"
	"bookview/internal/price"
	"bookview/logger"
	"bookview/models"
	"bookview/orderbook"
)

// ErrUnknownMarket is returned when switching to a market that is not in
// the configured catalogue.
var ErrUnknownMarket = errors.New("processor: market not configured")

// Subscriber is the transport side of a market subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, market string) error
	Unsubscribe(ctx context.Context, market string) error
}

// BookProcessor is the single ordered consumer of the feed channel. It owns
// the accumulation buffers and is the only writer of the store; API calls
// that mutate the book are serialized with message handling through mu.
type BookProcessor struct {
	config    *appconfig.Config
	feedChan  <-chan models.FeedMessage
	store     *orderbook.Store
	transport Subscriber
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	mu        sync.Mutex
	running   bool
	log       *logger.Log

	bids *AccumulationBuffer
	asks *AccumulationBuffer
}

// NewBookProcessor wires a processor for the configured default market.
// transport may be nil when subscriptions are driven elsewhere.
func NewBookProcessor(cfg *appconfig.Config, feedChan <-chan models.FeedMessage, store *orderbook.Store, transport Subscriber) *BookProcessor {
	policy := store.Policy()
	market := cfg.Book.DefaultMarket
	return &BookProcessor{
		config:    cfg,
		feedChan:  feedChan,
		store:     store,
		transport: transport,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		bids:      NewAccumulationBuffer(market, orderbook.Bid, policy),
		asks:      NewAccumulationBuffer(market, orderbook.Ask, policy),
	}
}

// Start subscribes to the default market and starts the consumer.
func (p *BookProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("book processor already running")
	}
	market := p.config.Book.DefaultMarket
	tick, err := p.defaultGrouping(market)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.store.Subscribe(market, tick); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("subscribe store: %w", err)
	}
	p.bids.Reset(market)
	p.asks.Reset(market)
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log := p.log.WithComponent("book_processor").WithFields(logger.Fields{"operation": "start", "market": market})
	log.Info("starting book processor")

	p.wg.Add(1)
	go p.worker()

	p.wg.Add(1)
	go p.metricsReporter(p.ctx)

	if p.transport != nil {
		if err := p.transport.Subscribe(p.ctx, market); err != nil {
			log.WithError(err).Warn("transport subscribe failed")
		}
	}

	log.Info("book processor started successfully")
	return nil
}

// Stop ends the subscription: pending buffers are discarded and the store is
// closed before the worker exits.
func (p *BookProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	market := p.store.Market()
	p.bids.Reset(market)
	p.asks.Reset(market)
	p.store.Close()
	p.cancel()
	p.mu.Unlock()

	p.log.WithComponent("book_processor").Info("stopping book processor")
	p.wg.Wait()
	p.log.WithComponent("book_processor").Info("book processor stopped")
}

func (p *BookProcessor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.feedChan:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *BookProcessor) handleMessage(msg models.FeedMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store.State() == orderbook.StateClosed {
		return
	}

	log := p.log.WithComponent("book_processor").WithFields(logger.Fields{
		"kind":   msg.Kind.String(),
		"source": msg.Source,
	})

	switch msg.Kind {
	case models.KindSnapshot:
		if msg.Snapshot != nil {
			p.applySnapshot(*msg.Snapshot)
		}
	case models.KindDelta:
		if msg.Delta != nil {
			p.applyDelta(*msg.Delta)
		}
	case models.KindSubscribed, models.KindUnsubscribed, models.KindInfo:
		fields := logger.Fields{}
		if msg.Control != nil {
			fields["feed"] = msg.Control.Feed
			fields["markets"] = msg.Control.Markets
		}
		log.WithFields(fields).Info("feed control event")
	case models.KindAlert:
		var text string
		if msg.Control != nil {
			text = msg.Control.Message
		}
		log.WithField("alert", text).Warn("feed alert")
	default:
		log.Debug("ignoring unknown feed message")
	}
}

func (p *BookProcessor) applySnapshot(snap models.Snapshot) {
	log := p.log.WithComponent("book_processor").WithFields(logger.Fields{
		"market":     snap.Market,
		"num_levels": snap.NumLevels,
	})
	start := time.Now()

	skipped, err := p.store.OnSnapshot(snap)
	if err != nil {
		p.reject(log, snap.Market, err)
		return
	}
	// Anything buffered predates the snapshot that just replaced the book.
	p.bids.Reset(p.store.Market())
	p.asks.Reset(p.store.Market())

	market := p.store.Market()
	logger.IncrementSnapshotRead(len(snap.Bids) + len(snap.Asks))
	metrics.RecordSnapshot(market)
	p.recordLevels(market)
	if skipped > 0 {
		log = log.WithField("skipped", skipped)
	}
	logger.LogPerformanceEntry(log, "book_processor", "snapshot", time.Since(start), nil)
}

func (p *BookProcessor) applyDelta(delta models.Delta) {
	active := p.store.Market()
	market := delta.Market
	if market == "" {
		market = active
	}
	log := p.log.WithComponent("book_processor").WithField("market", market)

	if market != active {
		p.reject(log, market, fmt.Errorf("delta for %q: %w", market, orderbook.ErrStaleMarket))
		return
	}
	if p.store.State() == orderbook.StateUninitialized {
		log.Debug("delta before snapshot ignored")
		return
	}
	logger.IncrementDeltaRead(len(delta.Bids) + len(delta.Asks))

	if f, ok := p.bids.Add(delta.Bids, delta.HasBids); ok {
		p.applyFlush(f)
	}
	if f, ok := p.asks.Add(delta.Asks, delta.HasAsks); ok {
		p.applyFlush(f)
	}
}

func (p *BookProcessor) applyFlush(f Flush) {
	log := p.log.WithComponent("book_processor").WithFields(logger.Fields{
		"market":   f.Market,
		"side":     f.Side.String(),
		"batch_id": f.BatchID,
		"entries":  len(f.Updates),
	})

	stats, err := p.store.ApplySideDeltas(f.Market, f.Side, f.Updates)
	if err != nil {
		p.reject(log, f.Market, err)
		return
	}

	logger.IncrementBufferFlush(len(f.Updates))
	metrics.RecordFlush(f.Side.String())
	metrics.RecordMerge(f.Market, f.Side.String(), metrics.MergeCounts(stats))
	p.recordLevels(f.Market)

	log.WithFields(logger.Fields{
		"updated":          stats.Updated,
		"inserted":         stats.Inserted,
		"removed":          stats.Removed,
		"ignored_removals": stats.IgnoredRemovals,
		"ignored_inserts":  stats.IgnoredInserts,
		"malformed":        stats.Malformed,
	}).Debug("buffer flushed into book")
}

func (p *BookProcessor) reject(log *logger.Entry, market string, err error) {
	switch {
	case errors.Is(err, orderbook.ErrStaleMarket):
		logger.IncrementStaleRejected()
		metrics.RecordStale(market)
		log.WithError(err).Warn("rejected message for inactive market")
	case errors.Is(err, orderbook.ErrNotSnapshotted), errors.Is(err, orderbook.ErrClosed):
		log.WithError(err).Debug("book not ready")
	default:
		log.WithError(err).Error("failed to apply feed message")
	}
}

func (p *BookProcessor) recordLevels(market string) {
	for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
		if lv, ok := p.store.GroupedLevels(side); ok {
			metrics.SetLevels(market, side.String(), len(lv))
		}
	}
}

// SwitchMarket makes market the active one. The store and both buffers are
// reset in one critical section; the transport is told afterwards so late
// messages for the old market arrive as stale.
func (p *BookProcessor) SwitchMarket(ctx context.Context, market string) error {
	p.mu.Lock()
	old := p.store.Market()
	if market == old && p.store.State() != orderbook.StateClosed {
		p.mu.Unlock()
		return nil
	}
	tick, err := p.defaultGrouping(market)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if err := p.store.Subscribe(market, tick); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("subscribe store: %w", err)
	}
	p.bids.Reset(market)
	p.asks.Reset(market)
	p.mu.Unlock()

	log := p.log.WithComponent("book_processor").WithFields(logger.Fields{"from": old, "to": market})
	log.Info("switched market")

	if p.transport == nil {
		return nil
	}
	if old != "" {
		if err := p.transport.Unsubscribe(ctx, old); err != nil {
			log.WithError(err).Warn("transport unsubscribe failed")
		}
	}
	if err := p.transport.Subscribe(ctx, market); err != nil {
		return fmt.Errorf("transport subscribe %s: %w", market, err)
	}
	return nil
}

// ToggleMarket switches to the next configured market and returns it.
func (p *BookProcessor) ToggleMarket(ctx context.Context) (string, error) {
	next := p.config.NextMarket(p.store.Market())
	if err := p.SwitchMarket(ctx, next); err != nil {
		return "", err
	}
	return next, nil
}

// SetGroupingSize parses tick and rebuilds the grouped book.
func (p *BookProcessor) SetGroupingSize(tick string) error {
	d, err := price.Parse(tick)
	if err != nil {
		return fmt.Errorf("grouping %q: %w", tick, orderbook.ErrInvalidTickSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if err := p.store.SetGroupingSize(d); err != nil {
		return err
	}
	logger.IncrementGroupingChange()
	p.recordLevels(p.store.Market())
	logger.LogPerformanceEntry(
		p.log.WithComponent("book_processor").WithField("grouping_size", d.String()),
		"book_processor", "regroup", time.Since(start), nil,
	)
	return nil
}

// BookView returns one grouped side, or false before the first snapshot.
func (p *BookProcessor) BookView(side orderbook.Side) (models.BookView, bool) {
	return p.store.BookView(side)
}

// SpreadView returns the current spread, or false when it is undefined.
func (p *BookProcessor) SpreadView() (models.SpreadView, bool) {
	s, ok := p.store.Spread()
	if !ok {
		return models.SpreadView{}, false
	}
	return s.View(p.store.Market()), true
}

// Status summarises the subscription for the API.
func (p *BookProcessor) Status() models.StatusView {
	p.mu.Lock()
	pendingBids, pendingAsks := p.bids.Pending(), p.asks.Pending()
	p.mu.Unlock()

	market := p.store.Market()
	view := models.StatusView{
		Market:       market,
		State:        p.store.State().String(),
		GroupingSize: p.store.GroupingSize().String(),
		LevelCap:     p.store.Policy().LevelCap,
		PendingBids:  pendingBids,
		PendingAsks:  pendingAsks,
	}
	if mc, ok := p.config.Market(market); ok {
		view.GroupingOptions = mc.Groupings
	}
	if lv, ok := p.store.GroupedLevels(orderbook.Bid); ok {
		view.BidLevels = len(lv)
	}
	if lv, ok := p.store.GroupedLevels(orderbook.Ask); ok {
		view.AskLevels = len(lv)
	}
	return view
}

func (p *BookProcessor) defaultGrouping(market string) (decimal.Decimal, error) {
	mc, ok := p.config.Market(market)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", market, ErrUnknownMarket)
	}
	tick, err := price.Parse(mc.DefaultGrouping())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s default grouping: %w", market, orderbook.ErrInvalidTickSize)
	}
	return tick, nil
}

func (p *BookProcessor) metricsReporter(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.Processor.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			running := p.running
			pendingBids, pendingAsks := p.bids.Pending(), p.asks.Pending()
			p.mu.Unlock()
			if !running {
				return
			}
			p.log.WithComponent("book_processor").WithFields(logger.Fields{
				"market":           p.store.Market(),
				"state":            p.store.State().String(),
				"feed_channel_len": len(p.feedChan),
				"feed_channel_cap": cap(p.feedChan),
				"pending_bids":     pendingBids,
				"pending_asks":     pendingAsks,
				"grouping_size":    p.store.GroupingSize().String(),
			}).Info("book processor status")
		}
	}
}
