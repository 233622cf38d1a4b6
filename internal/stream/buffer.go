// ABOUTME: Debouncing stream buffer for one logical channel of a turn
// ABOUTME: Coalesces token deltas into bounded-rate flushes of the full accumulated text

// Package stream carries partial model output to observers.
//
// A turn owns two Buffer instances, one per logical channel ("thinking"
// and "content"). Each coalesces rapidly arriving fragments and flushes at
// most once per configured interval, always delivering the whole
// accumulated channel text rather than per-token deltas. This bounds the
// downstream broadcast volume independently of upstream token granularity.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/swombat/helix-chat/internal/fault"
)

// Channel names for the two per-turn buffers.
const (
	ChannelThinking = "thinking"
	ChannelContent  = "content"
)

// Update is one coalesced delivery to observers. Text is always the full
// accumulated channel text so far. Failure carries a transient-failure
// marker; it is never persisted, only shown live.
type Update struct {
	ConversationID string
	AgentID        int64
	Channel        string
	Text           string
	Final          bool
	Failure        string
}

// Sink receives coalesced updates. Delivery is fire-and-forget and
// at-least-once; observers are idempotent on latest state.
type Sink interface {
	Publish(u Update)
}

// Buffer accumulates fragments for one channel of one turn and debounces
// flushes to the sink. It is created at turn start, owned exclusively by
// that turn's executor, and closed by Finalize.
type Buffer struct {
	mu             sync.Mutex
	conversationID string
	agentID        int64
	channel        string
	sink           Sink
	interval       time.Duration

	acc       strings.Builder
	lastFlush time.Time
	dirty     bool
	closed    bool

	now func() time.Time
}

// NewBuffer creates a buffer for one (turn, channel) pair. The debounce
// window opens at creation: fragments arriving within interval of the last
// flush accumulate silently until the window elapses or Finalize runs.
func NewBuffer(conversationID string, agentID int64, channel string, interval time.Duration, sink Sink) *Buffer {
	b := &Buffer{
		conversationID: conversationID,
		agentID:        agentID,
		channel:        channel,
		sink:           sink,
		interval:       interval,
		now:            time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Append adds a fragment to the channel. If the debounce interval has
// elapsed since the last flush, the full accumulated text is published.
//
// Appending after Finalize is a contract violation: it signals an upstream
// termination bug. The fragment is rejected and the accumulated text is
// left unchanged.
func (b *Buffer) Append(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return &fault.ContractViolation{
			Reason: "append to finalized " + b.channel + " buffer",
		}
	}
	if text == "" {
		return nil
	}

	b.acc.WriteString(text)
	b.dirty = true

	if b.now().Sub(b.lastFlush) >= b.interval {
		b.flushLocked(false)
	}
	return nil
}

// Finalize flushes the complete accumulated text immediately, regardless
// of the debounce window, and closes the buffer. The final byte is never
// left stranded inside a debounce window.
func (b *Buffer) Finalize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return &fault.ContractViolation{
			Reason: "finalize of already finalized " + b.channel + " buffer",
		}
	}
	b.flushLocked(true)
	b.closed = true
	return nil
}

// Text returns the accumulated channel text. After Finalize it is
// immutable; before that it is monotonically non-decreasing.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acc.String()
}

func (b *Buffer) flushLocked(final bool) {
	if !final && !b.dirty {
		return
	}
	b.sink.Publish(Update{
		ConversationID: b.conversationID,
		AgentID:        b.agentID,
		Channel:        b.channel,
		Text:           b.acc.String(),
		Final:          final,
	})
	b.lastFlush = b.now()
	b.dirty = false
}
