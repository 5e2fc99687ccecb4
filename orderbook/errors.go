package orderbook

import "errors"

var (
	// ErrStaleMarket marks a message for a market other than the active one.
	ErrStaleMarket = errors.New("orderbook: message for inactive market")
	// ErrInvalidTickSize marks a zero or negative grouping size.
	ErrInvalidTickSize = errors.New("orderbook: invalid tick size")
	// ErrNotSnapshotted marks a delta received before the first snapshot.
	ErrNotSnapshotted = errors.New("orderbook: no snapshot received")
	// ErrClosed marks any mutation after the subscription ended.
	ErrClosed = errors.New("orderbook: store closed")
	// ErrNoMarket marks a subscription request without a market.
	ErrNoMarket = errors.New("orderbook: market is required")
)
