// ABOUTME: Per-turn delta meter carried through context
// ABOUTME: Counts streamed chunks per channel without any process-wide state

package provider

import (
	"context"
	"sync/atomic"
)

// Meter counts streamed deltas for a single turn. A fresh Meter is created
// per turn and passed through context; nothing here is process-wide, so
// counts can never leak between turns or accounts.
type Meter struct {
	thinkingChunks atomic.Int64
	contentChunks  atomic.Int64
}

// Count records one delta of the given kind. Safe on a nil receiver so
// providers need not check whether a meter was attached.
func (m *Meter) Count(kind DeltaKind) {
	if m == nil {
		return
	}
	if kind == KindThinking {
		m.thinkingChunks.Add(1)
	} else {
		m.contentChunks.Add(1)
	}
}

// ThinkingChunks returns the number of thinking deltas counted.
func (m *Meter) ThinkingChunks() int64 {
	if m == nil {
		return 0
	}
	return m.thinkingChunks.Load()
}

// ContentChunks returns the number of content deltas counted.
func (m *Meter) ContentChunks() int64 {
	if m == nil {
		return 0
	}
	return m.contentChunks.Load()
}

type meterKey struct{}

// ContextWithMeter attaches a turn's meter to ctx.
func ContextWithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the meter attached to ctx, or nil if none.
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}
