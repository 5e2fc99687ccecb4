// Package uifeed reads the book_ui_1 websocket feed and hands decoded
// messages to the feed channel.
package uifeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "bookview/config"
	"bookview/internal/channel/feed"
	"bookview/internal/metrics"
	"bookview/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 30 * time.Second
	writeTimeout          = 5 * time.Second
)

// ErrNotConnected is returned by Subscribe/Unsubscribe requests that could
// not be written. The subscription is still recorded and sent on the next
// connect.
var ErrNotConnected = errors.New("uifeed: not connected")

// Reader keeps one websocket connection open, re-subscribing the active
// market after every reconnect.
type Reader struct {
	url            string
	reconnectDelay time.Duration
	keepAlive      time.Duration
	channels       *feed.Channels
	limiter        *rate.Limiter
	dialer         *websocket.Dialer
	wg             *sync.WaitGroup
	mu             sync.RWMutex
	running        bool
	market         string
	conn           *websocket.Conn
	writeMu        sync.Mutex
	log            *logger.Log
}

func NewReader(cfg *appconfig.Config, channels *feed.Channels) *Reader {
	delay := cfg.Feed.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	keepAlive := cfg.Feed.Keepalive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	rps := cfg.Feed.ReconnectRate
	if rps <= 0 {
		rps = 0.2
	}
	burst := cfg.Feed.ReconnectBurst
	if burst <= 0 {
		burst = 1
	}
	return &Reader{
		url:            cfg.Feed.URL,
		reconnectDelay: delay,
		keepAlive:      keepAlive,
		channels:       channels,
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		dialer:         websocket.DefaultDialer,
		wg:             &sync.WaitGroup{},
		log:            logger.GetLogger(),
	}
}

// Start launches the connection loop. It returns immediately.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("uifeed reader already running")
	}
	r.running = true
	r.mu.Unlock()

	r.log.WithComponent("uifeed_reader").WithField("url", r.url).Info("starting uifeed reader")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
	return nil
}

// Stop waits for the connection loop to exit; cancel the Start context first.
func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	r.wg.Wait()
	r.log.WithComponent("uifeed_reader").Info("uifeed reader stopped")
}

// Subscribe records market as the active one and asks the server for it.
func (r *Reader) Subscribe(_ context.Context, market string) error {
	r.mu.Lock()
	r.market = market
	r.mu.Unlock()
	return r.send(subscribeRequest(market))
}

// Unsubscribe asks the server to stop sending market.
func (r *Reader) Unsubscribe(_ context.Context, market string) error {
	r.mu.Lock()
	if r.market == market {
		r.market = ""
	}
	r.mu.Unlock()
	return r.send(unsubscribeRequest(market))
}

func (r *Reader) activeMarket() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.market
}

func (r *Reader) setConn(conn *websocket.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

func (r *Reader) send(req request) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return r.write(conn, req)
}

func (r *Reader) write(conn *websocket.Conn, req request) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%s %v: %w", req.Event, req.ProductIDs, err)
	}
	return nil
}

func (r *Reader) run(ctx context.Context) {
	log := r.log.WithComponent("uifeed_reader").WithField("url", r.url)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			metrics.RecordReconnect(SourceName)
			log.WithError(err).Warn("failed to connect to feed websocket")
			if waitForReconnect(ctx, r.reconnectDelay) {
				return
			}
			continue
		}
		r.setConn(conn)

		if market := r.activeMarket(); market != "" {
			if err := r.write(conn, subscribeRequest(market)); err != nil {
				log.WithError(err).Warn("failed to subscribe after connect")
			}
		}

		pingCancel := r.startPingLoop(ctx, conn, log)
		if err := r.readMessages(ctx, conn); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("feed websocket read loop ended")
		}
		pingCancel()

		r.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		metrics.RecordReconnect(SourceName)
		if waitForReconnect(ctx, r.reconnectDelay) {
			return
		}
	}
}

func (r *Reader) readMessages(ctx context.Context, conn *websocket.Conn) error {
	log := r.log.WithComponent("uifeed_reader")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := Decode(data, r.activeMarket(), time.Now())
		if err != nil {
			log.WithError(err).Debug("skipping frame")
			continue
		}
		if !r.channels.Send(ctx, msg) {
			return ctx.Err()
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (r *Reader) startPingLoop(ctx context.Context, conn *websocket.Conn, log *logger.Entry) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(r.keepAlive)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				r.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				r.writeMu.Unlock()
				if err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					return
				}
			}
		}
	}()
	return cancel
}
