// ABOUTME: Tests for the stream update broadcaster
// ABOUTME: Covers fan-out, conversation isolation, unsubscribe, and slow subscribers

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_SingleSubscriberReceivesUpdate(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "conv-1")

	b.Publish(Update{ConversationID: "conv-1", Channel: ChannelContent, Text: "hello"})

	select {
	case u := <-ch:
		assert.Equal(t, "hello", u.Text)
		assert.Equal(t, ChannelContent, u.Channel)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestBroadcaster_ConversationsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "conv-1")
	ch2, _ := b.Subscribe(t.Context(), "conv-2")

	b.Publish(Update{ConversationID: "conv-1", Channel: ChannelContent, Text: "only for one"})

	select {
	case u := <-ch1:
		assert.Equal(t, "only for one", u.Text)
	case <-time.After(time.Second):
		t.Fatal("subscriber for conv-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for conv-2 should not receive conv-1 updates")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameUpdate(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "conv-1")
	ch2, _ := b.Subscribe(t.Context(), "conv-1")

	b.Publish(Update{ConversationID: "conv-1", Channel: ChannelThinking, Text: "hm"})

	for i, ch := range []<-chan Update{ch1, ch2} {
		select {
		case u := <-ch:
			assert.Equal(t, "hm", u.Text, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "conv-1")
	b.Unsubscribe("conv-1", subID)

	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcaster_ContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "conv-1")
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestBroadcaster_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "conv-1")

	// Overfill the subscriber buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(Update{ConversationID: "conv-1", Channel: ChannelContent, Text: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_PublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Must not panic or block.
	b.Publish(Update{ConversationID: "nobody-home", Channel: ChannelContent, Text: "x"})
}
