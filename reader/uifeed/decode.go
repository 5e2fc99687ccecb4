package uifeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookview/models"
)

const (
	FeedName   = "book_ui_1"
	SourceName = "uifeed"
)

// ErrUnrecognized is returned for frames that are neither an event nor a
// book message.
var ErrUnrecognized = errors.New("uifeed: unrecognized frame")

type wireFrame struct {
	Event      string             `json:"event"`
	Feed       string             `json:"feed"`
	ProductID  string             `json:"product_id"`
	ProductIDs []string           `json:"product_ids"`
	Message    string             `json:"message"`
	NumLevels  *int               `json:"numLevels"`
	Bids       *[]json.RawMessage `json:"bids"`
	Asks       *[]json.RawMessage `json:"asks"`
}

type request struct {
	Event      string   `json:"event"`
	Feed       string   `json:"feed"`
	ProductIDs []string `json:"product_ids"`
}

func subscribeRequest(market string) request {
	return request{Event: "subscribe", Feed: FeedName, ProductIDs: []string{market}}
}

func unsubscribeRequest(market string) request {
	return request{Event: "unsubscribe", Feed: FeedName, ProductIDs: []string{market}}
}

// Decode turns one websocket frame into a tagged feed message. A frame with
// numLevels is a snapshot; a frame with bids or asks and no numLevels is a
// delta. Book frames without product_id are attributed to activeMarket.
func Decode(data []byte, activeMarket string, receivedAt time.Time) (models.FeedMessage, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return models.FeedMessage{}, fmt.Errorf("decode frame: %w", err)
	}

	if f.Event != "" {
		return decodeEvent(f)
	}

	market := f.ProductID
	if market == "" {
		market = activeMarket
	}

	switch {
	case f.NumLevels != nil:
		return models.FeedMessage{
			Kind:   models.KindSnapshot,
			Source: SourceName,
			Snapshot: &models.Snapshot{
				Market:     market,
				NumLevels:  *f.NumLevels,
				Bids:       levelUpdates(f.Bids),
				Asks:       levelUpdates(f.Asks),
				ReceivedAt: receivedAt,
			},
		}, nil
	case f.Bids != nil || f.Asks != nil:
		return models.FeedMessage{
			Kind:   models.KindDelta,
			Source: SourceName,
			Delta: &models.Delta{
				Market:     market,
				Bids:       levelUpdates(f.Bids),
				Asks:       levelUpdates(f.Asks),
				HasBids:    f.Bids != nil,
				HasAsks:    f.Asks != nil,
				ReceivedAt: receivedAt,
			},
		}, nil
	default:
		return models.FeedMessage{}, ErrUnrecognized
	}
}

func decodeEvent(f wireFrame) (models.FeedMessage, error) {
	var kind models.FeedKind
	switch f.Event {
	case "subscribed":
		kind = models.KindSubscribed
	case "unsubscribed":
		kind = models.KindUnsubscribed
	case "info":
		kind = models.KindInfo
	case "alert", "error":
		kind = models.KindAlert
	default:
		return models.FeedMessage{}, fmt.Errorf("event %q: %w", f.Event, ErrUnrecognized)
	}
	return models.FeedMessage{
		Kind:   kind,
		Source: SourceName,
		Control: &models.Control{
			Event:   f.Event,
			Feed:    f.Feed,
			Markets: f.ProductIDs,
			Message: f.Message,
		},
	}, nil
}

// levelUpdates keeps every entry in place; entries that are not a
// [price, size] pair come out empty so the merge engine counts them as
// malformed. A present but empty list stays non-nil.
func levelUpdates(raw *[]json.RawMessage) []models.LevelUpdate {
	if raw == nil {
		return nil
	}
	out := make([]models.LevelUpdate, 0, len(*raw))
	for _, entry := range *raw {
		out = append(out, levelUpdate(entry))
	}
	return out
}

func levelUpdate(entry json.RawMessage) models.LevelUpdate {
	var pair []json.RawMessage
	if err := json.Unmarshal(entry, &pair); err != nil || len(pair) < 2 {
		return models.LevelUpdate{}
	}
	p, ok1 := scalar(pair[0])
	size, ok2 := scalar(pair[1])
	if !ok1 || !ok2 {
		return models.LevelUpdate{}
	}
	return models.LevelUpdate{Price: p, Size: size}
}

// scalar returns a JSON number or string verbatim, keeping its precision.
func scalar(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", false
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), s != ""
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil || n == "" {
		return "", false
	}
	return n.String(), true
}
