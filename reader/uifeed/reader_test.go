package uifeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "bookview/config"
	"bookview/internal/channel/feed"
	"bookview/models"
)

// feedServer accepts one client, checks its subscribe request, then plays
// back frames.
func feedServer(t *testing.T, requests chan<- request, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub request
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		requests <- sub
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func testConfig(url string) *appconfig.Config {
	return &appconfig.Config{Feed: appconfig.FeedConfig{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
		Keepalive:      time.Second,
		ReconnectRate:  100,
		ReconnectBurst: 1,
	}}
}

func TestReaderSubscribesAndForwardsFrames(t *testing.T) {
	requests := make(chan request, 1)
	srv := feedServer(t, requests, []string{
		`{"event":"subscribed","feed":"book_ui_1","product_ids":["PI_XBTUSD"]}`,
		`{"numLevels":25,"feed":"book_ui_1_snapshot","bids":[[100,5]],"asks":[[100.5,1]],"product_id":"PI_XBTUSD"}`,
		`{"feed":"heartbeat"}`,
		`{"feed":"book_ui_1","bids":[[99,7]]}`,
	})
	defer srv.Close()

	channels := feed.NewChannels(8)
	r := NewReader(testConfig("ws"+strings.TrimPrefix(srv.URL, "http")), channels)
	require.ErrorIs(t, r.Subscribe(context.Background(), "PI_XBTUSD"), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	defer func() {
		cancel()
		r.Stop()
	}()

	select {
	case sub := <-requests:
		assert.Equal(t, subscribeRequest("PI_XBTUSD"), sub)
	case <-time.After(2 * time.Second):
		t.Fatalf("no subscribe request received")
	}

	var got []models.FeedMessage
	for len(got) < 3 {
		select {
		case msg := <-channels.Feed:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d messages, want 3", len(got))
		}
	}
	assert.Equal(t, models.KindSubscribed, got[0].Kind)
	assert.Equal(t, models.KindSnapshot, got[1].Kind)
	assert.Equal(t, models.KindDelta, got[2].Kind)
	assert.Equal(t, "PI_XBTUSD", got[2].Delta.Market)
}
