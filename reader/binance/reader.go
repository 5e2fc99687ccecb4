// Package binance adapts the Binance USD-M futures depth streams to the
// book feed: one REST snapshot per subscription followed by the diff depth
// websocket.
package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	appconfig "bookview/config"
	"bookview/internal/channel/feed"
	"bookview/internal/metrics"
	"bookview/internal/symbols"
	"bookview/logger"
	"bookview/models"
)

const SourceName = "binance"

// Reader streams depth for the active symbol. Subscribing to another symbol
// stops the previous stream first.
type Reader struct {
	config   *appconfig.Config
	client   *futures.Client
	channels *feed.Channels
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.Mutex
	running  bool
	market   string
	cancel   context.CancelFunc
	log      *logger.Log
}

func NewReader(cfg *appconfig.Config, channels *feed.Channels) *Reader {
	rps := cfg.Feed.ReconnectRate
	if rps <= 0 {
		rps = 0.2
	}
	burst := cfg.Feed.ReconnectBurst
	if burst <= 0 {
		burst = 1
	}
	return &Reader{
		config:   cfg,
		client:   futures.NewClient("", ""),
		channels: channels,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("binance reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"interval": r.config.Feed.Binance.Interval.String(),
		"limit":    r.config.Feed.Binance.Limit,
	}).Info("starting binance reader")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.log.WithComponent("binance_reader").Info("binance reader stopped")
}

// Subscribe replaces the active stream with one for market.
func (r *Reader) Subscribe(_ context.Context, market string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return fmt.Errorf("binance reader not running")
	}
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.market = market
	r.cancel = cancel

	r.wg.Add(1)
	go r.streamSymbol(ctx, market)
	return nil
}

// Unsubscribe stops the stream when market is the active one.
func (r *Reader) Unsubscribe(_ context.Context, market string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.market != market || r.cancel == nil {
		return nil
	}
	r.cancel()
	r.cancel = nil
	r.market = ""
	return nil
}

func (r *Reader) streamSymbol(ctx context.Context, market string) {
	defer r.wg.Done()

	symbol := symbols.ToBinance(market)
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"market": market,
		"symbol": symbol,
		"worker": "depth_stream",
	})

	for ctx.Err() == nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if err := r.runStream(ctx, market, symbol, log); err != nil && ctx.Err() == nil {
			metrics.RecordReconnect(SourceName)
			log.WithError(err).Warn("depth stream ended, resyncing")
		}
	}
}

// runStream opens the diff stream, then fetches the snapshot, so no event
// between the two is lost. Events already covered by the snapshot are
// skipped. Messages are tagged with market rather than the exchange symbol.
func (r *Reader) runStream(ctx context.Context, market, symbol string, log *logger.Entry) error {
	events := make(chan *futures.WsDepthEvent, 256)
	errC := make(chan error, 1)

	handler := func(event *futures.WsDepthEvent) {
		select {
		case events <- event:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		if err != nil {
			select {
			case errC <- err:
			default:
			}
		}
	}

	doneC, stopC, err := futures.WsDiffDepthServeWithRate(symbol, r.config.Feed.Binance.Interval, handler, errHandler)
	if err != nil {
		return fmt.Errorf("subscribe diff depth: %w", err)
	}
	defer func() {
		close(stopC)
		<-doneC
	}()

	depth, err := r.client.NewDepthService().Symbol(symbol).Limit(r.config.Feed.Binance.Limit).Do(ctx)
	if err != nil {
		return fmt.Errorf("fetch depth snapshot: %w", err)
	}
	snap := snapshotFromDepth(market, depth, time.Now())
	if !r.channels.Send(ctx, models.FeedMessage{Kind: models.KindSnapshot, Source: SourceName, Snapshot: &snap}) {
		return ctx.Err()
	}
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.LogDataFlowEntry(log, "binance_rest", "feed", len(snap.Bids)+len(snap.Asks), "snapshot_levels")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errC:
			return err
		case <-doneC:
			return fmt.Errorf("depth stream closed")
		case event := <-events:
			if event.LastUpdateID <= depth.LastUpdateID {
				continue
			}
			delta := deltaFromEvent(market, event, time.Now())
			if !r.channels.Send(ctx, models.FeedMessage{Kind: models.KindDelta, Source: SourceName, Delta: &delta}) {
				return nil
			}
		}
	}
}

func snapshotFromDepth(market string, depth *futures.DepthResponse, now time.Time) models.Snapshot {
	snap := models.Snapshot{
		Market:     market,
		NumLevels:  len(depth.Bids) + len(depth.Asks),
		Bids:       make([]models.LevelUpdate, 0, len(depth.Bids)),
		Asks:       make([]models.LevelUpdate, 0, len(depth.Asks)),
		ReceivedAt: now,
	}
	for _, b := range depth.Bids {
		snap.Bids = append(snap.Bids, models.LevelUpdate{Price: b.Price, Size: b.Quantity})
	}
	for _, a := range depth.Asks {
		snap.Asks = append(snap.Asks, models.LevelUpdate{Price: a.Price, Size: a.Quantity})
	}
	return snap
}

// deltaFromEvent maps a diff depth event. Both lists are always present on
// this stream, even when empty.
func deltaFromEvent(market string, event *futures.WsDepthEvent, now time.Time) models.Delta {
	d := models.Delta{
		Market:     market,
		Bids:       make([]models.LevelUpdate, 0, len(event.Bids)),
		Asks:       make([]models.LevelUpdate, 0, len(event.Asks)),
		HasBids:    true,
		HasAsks:    true,
		ReceivedAt: now,
	}
	for _, b := range event.Bids {
		d.Bids = append(d.Bids, models.LevelUpdate{Price: b.Price, Size: b.Quantity})
	}
	for _, a := range event.Asks {
		d.Asks = append(d.Asks, models.LevelUpdate{Price: a.Price, Size: a.Quantity})
	}
	return d
}
