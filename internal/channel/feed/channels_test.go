package feed

import (
	"context"
	"testing"
	"time"

	"bookview/models"
)

func TestSendCountsByKind(t *testing.T) {
	ch := NewChannels(4)
	ctx := context.Background()

	ch.Send(ctx, models.FeedMessage{Kind: models.KindSnapshot, Snapshot: &models.Snapshot{}})
	ch.Send(ctx, models.FeedMessage{Kind: models.KindDelta, Delta: &models.Delta{}})
	ch.Send(ctx, models.FeedMessage{Kind: models.KindSubscribed, Control: &models.Control{}})

	stats := ch.GetStats()
	if stats.Sent != 3 || stats.Snapshots != 1 || stats.Deltas != 1 || stats.Controls != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if ch.Len() != 3 || ch.Cap() != 4 {
		t.Fatalf("len/cap = %d/%d", ch.Len(), ch.Cap())
	}
}

func TestSendBlocksInsteadOfDropping(t *testing.T) {
	ch := NewChannels(1)
	ctx := context.Background()
	if !ch.Send(ctx, models.FeedMessage{Kind: models.KindDelta}) {
		t.Fatalf("first send failed")
	}

	done := make(chan bool)
	go func() { done <- ch.Send(ctx, models.FeedMessage{Kind: models.KindDelta}) }()

	select {
	case <-done:
		t.Fatalf("send on a full channel must wait")
	case <-time.After(20 * time.Millisecond):
	}

	<-ch.Feed
	if ok := <-done; !ok {
		t.Fatalf("blocked send must complete once there is room")
	}
}

func TestSendReturnsOnCancel(t *testing.T) {
	ch := NewChannels(1)
	ch.Send(context.Background(), models.FeedMessage{Kind: models.KindDelta})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ch.Send(ctx, models.FeedMessage{Kind: models.KindDelta}) {
		t.Fatalf("send must fail after cancel")
	}
	if ch.GetStats().Cancelled != 1 {
		t.Fatalf("cancelled send not counted")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ch := NewChannels(1)
	ch.Close()
	ch.Close()
	if ch.Send(context.Background(), models.FeedMessage{}) {
		t.Fatalf("send after close must fail")
	}
}
