package models

import "time"

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// FEED //////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// FeedKind tags a decoded feed message. The tag is decided once by the
// transport that received the frame; downstream code never re-inspects the
// payload shape.
type FeedKind uint8

const (
	KindUnknown FeedKind = iota
	KindSnapshot
	KindDelta
	KindSubscribed
	KindUnsubscribed
	KindInfo
	KindAlert
)

func (k FeedKind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	case KindSubscribed:
		return "subscribed"
	case KindUnsubscribed:
		return "unsubscribed"
	case KindInfo:
		return "info"
	case KindAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// LevelUpdate is one (price, size) pair as reported by the feed, kept at
// native precision. An empty Price or Size marks a malformed entry.
type LevelUpdate struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Snapshot is a full replace of both sides of one market.
type Snapshot struct {
	Market     string        `json:"market"`
	NumLevels  int           `json:"num_levels"`
	Bids       []LevelUpdate `json:"bids"`
	Asks       []LevelUpdate `json:"asks"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Delta carries incremental updates. HasBids/HasAsks record whether the
// field was present on the wire at all, which matters for buffer admission.
type Delta struct {
	Market     string        `json:"market"`
	Bids       []LevelUpdate `json:"bids"`
	Asks       []LevelUpdate `json:"asks"`
	HasBids    bool          `json:"has_bids"`
	HasAsks    bool          `json:"has_asks"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Control covers subscription acknowledgements and informational events.
type Control struct {
	Event   string   `json:"event"`
	Feed    string   `json:"feed"`
	Markets []string `json:"markets"`
	Message string   `json:"message"`
}

// FeedMessage is the tagged variant handed from a transport to the book
// processor. Exactly one of Snapshot, Delta or Control is set, matching Kind.
type FeedMessage struct {
	Kind     FeedKind  `json:"kind"`
	Source   string    `json:"source"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Delta    *Delta    `json:"delta,omitempty"`
	Control  *Control  `json:"control,omitempty"`
}

// Market returns the market the message refers to, if any.
func (m FeedMessage) Market() string {
	switch {
	case m.Snapshot != nil:
		return m.Snapshot.Market
	case m.Delta != nil:
		return m.Delta.Market
	case m.Control != nil && len(m.Control.Markets) > 0:
		return m.Control.Markets[0]
	default:
		return ""
	}
}

// EntryCount is the number of level updates carried by the message.
func (m FeedMessage) EntryCount() int {
	switch {
	case m.Snapshot != nil:
		return len(m.Snapshot.Bids) + len(m.Snapshot.Asks)
	case m.Delta != nil:
		return len(m.Delta.Bids) + len(m.Delta.Asks)
	default:
		return 0
	}
}
