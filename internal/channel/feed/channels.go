// Package feed holds the channel that carries decoded feed messages from a
// transport to the book processor.
package feed

import (
	"context"
	"sync"
	"sync/atomic"

	"bookview/logger"
	"bookview/models"
)

type ChannelStats struct {
	Sent      int64
	Snapshots int64
	Deltas    int64
	Controls  int64
	Cancelled int64
}

// Channels owns the feed channel. Sends block until there is room or the
// context ends, so deltas are never dropped to relieve back-pressure.
type Channels struct {
	Feed chan models.FeedMessage

	stats     ChannelStats
	statsMu   sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	log       *logger.Log
}

func NewChannels(bufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Feed: make(chan models.FeedMessage, bufferSize),
		log:  log,
	}

	log.WithComponent("feed_channels").WithFields(logger.Fields{
		"feed_buffer_size": bufferSize,
	}).Info("feed channels initialized")

	return c
}

// Close closes the feed channel once. Senders must have stopped.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.Feed)
		c.log.WithComponent("feed_channels").Info("feed channels closed")
	})
}

// Send hands msg to the processor. It reports false only when ctx ended
// first or the channels are closed.
func (c *Channels) Send(ctx context.Context, msg models.FeedMessage) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.Feed <- msg:
		c.record(msg.Kind)
		logger.RecordChannelMessage("feed", msg.EntryCount())
		return true
	case <-ctx.Done():
		c.statsMu.Lock()
		c.stats.Cancelled++
		c.statsMu.Unlock()
		return false
	}
}

func (c *Channels) record(kind models.FeedKind) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Sent++
	switch kind {
	case models.KindSnapshot:
		c.stats.Snapshots++
	case models.KindDelta:
		c.stats.Deltas++
	default:
		c.stats.Controls++
	}
}

func (c *Channels) Len() int { return len(c.Feed) }

func (c *Channels) Cap() int { return cap(c.Feed) }

func (c *Channels) GetStats() ChannelStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}
