// ABOUTME: Schedules agent response turns, one at a time per conversation
// ABOUTME: Computes responder queues from triggers and self-requeues the remainder

// Package orchestrator decides which agents respond to an inbound message
// and runs their turns strictly one at a time per conversation.
//
// Each turn is its own scheduled unit: when it finishes, the remaining
// responder queue is handed to a fresh unit rather than looped over, so an
// interruption loses at most the undispatched remainder.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swombat/helix-chat/internal/dedupe"
	"github.com/swombat/helix-chat/internal/mention"
	"github.com/swombat/helix-chat/internal/store"
	"github.com/swombat/helix-chat/internal/turn"
)

// ErrClosed is returned by EnqueueTurn after Close.
var ErrClosed = errors.New("orchestrator closed")

// Trigger is one inbound event for a conversation. MessageID is the
// at-least-once delivery key; a repeated id is dropped. Broadcast selects
// every participant instead of scanning Text for mentions.
type Trigger struct {
	MessageID string
	Text      string
	Broadcast bool
}

// ConversationReader is what the orchestrator needs from persistence.
type ConversationReader interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListParticipants(ctx context.Context, conversationID string) ([]*store.Agent, error)
}

// TurnRunner runs one agent turn to completion.
type TurnRunner interface {
	Run(ctx context.Context, req turn.Request) turn.Outcome
}

// Options tune the orchestrator.
type Options struct {
	// DedupeTTL is how long a trigger message id is remembered.
	DedupeTTL time.Duration
	// DedupeSize bounds the trigger seen-cache.
	DedupeSize int
	// ResultCap bounds the retained per-agent outcomes; the oldest are
	// evicted first so long-lived embeddings do not grow without limit.
	ResultCap int
}

func (o *Options) setDefaults() {
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 5 * time.Minute
	}
	if o.DedupeSize <= 0 {
		o.DedupeSize = 4096
	}
	if o.ResultCap <= 0 {
		o.ResultCap = 4096
	}
}

// convState tracks one conversation's scheduling slot. queue holds the
// undispatched responders of the active trigger; pending holds whole
// triggers that arrived while the slot was busy.
type convState struct {
	busy      bool
	accountID string
	reason    turn.TriggerReason
	queue     []turn.AgentRef
	pending   []Trigger
	cancel    context.CancelFunc
}

type resultKey struct {
	conversationID string
	agentID        int64
}

// recordResult stores an outcome, evicting the oldest entries past the
// cap. o.mu must be held.
func (o *Orchestrator) recordResult(key resultKey, outcome turn.Outcome) {
	if _, ok := o.results[key]; !ok {
		o.resultOrder = append(o.resultOrder, key)
	}
	o.results[key] = outcome

	for len(o.resultOrder) > o.resultCap {
		evict := o.resultOrder[0]
		o.resultOrder = o.resultOrder[1:]
		delete(o.results, evict)
	}
}

// Orchestrator serializes turns per conversation while letting any number
// of conversations progress in parallel.
type Orchestrator struct {
	store  ConversationReader
	runner TurnRunner
	seen   *dedupe.Cache
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	states      map[string]*convState
	results     map[resultKey]turn.Outcome
	resultOrder []resultKey
	resultCap   int
	closed      bool
}

// New creates an orchestrator. Pass nil logger for default.
func New(reader ConversationReader, runner TurnRunner, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   reader,
		runner:  runner,
		seen:    dedupe.New(opts.DedupeTTL, opts.DedupeSize),
		logger:  logger.With("component", "orchestrator"),
		ctx:       ctx,
		cancel:    cancel,
		states:    make(map[string]*convState),
		results:   make(map[resultKey]turn.Outcome),
		resultCap: opts.ResultCap,
	}
}

// EnqueueTurn registers an inbound trigger for a conversation. It never
// blocks on turn execution. A trigger arriving while the conversation is
// mid-turn is held until the running requeue chain drains back to idle. An
// empty responder queue is a normal no-op, not an error.
func (o *Orchestrator) EnqueueTurn(conversationID string, trig Trigger) error {
	if trig.MessageID != "" && o.seen.Observe(trig.MessageID) {
		o.logger.Debug("duplicate trigger dropped",
			"conversation_id", conversationID,
			"message_id", trig.MessageID)
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	st := o.states[conversationID]
	if st == nil {
		st = &convState{}
		o.states[conversationID] = st
	}
	st.pending = append(st.pending, trig)
	if st.busy {
		return nil
	}
	st.busy = true
	o.wg.Add(1)
	go o.step(conversationID)
	return nil
}

// TurnResult reports how the most recent turn for (conversation, agent)
// ended. ok is false when no turn has completed for that pair.
func (o *Orchestrator) TurnResult(conversationID string, agentID int64) (turn.Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome, ok := o.results[resultKey{conversationID, agentID}]
	return outcome, ok
}

// Stop aborts a conversation's in-flight turn and discards its remaining
// queue and held triggers. The running executor observes a cancellation.
func (o *Orchestrator) Stop(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.states[conversationID]
	if st == nil {
		return
	}
	st.queue = nil
	st.pending = nil
	if st.cancel != nil {
		st.cancel()
	}
}

// Close cancels every in-flight turn and waits for all scheduled units to
// finish. EnqueueTurn fails afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.seen.Close()
}

// step is one scheduled unit: dispatch at most one turn, then hand the
// remainder to a fresh unit. It owns the conversation's busy slot and must
// either run a turn or release the slot.
func (o *Orchestrator) step(conversationID string) {
	defer o.wg.Done()

	o.mu.Lock()
	st := o.states[conversationID]

	for len(st.queue) == 0 {
		if len(st.pending) == 0 || o.closed {
			st.busy = false
			o.mu.Unlock()
			return
		}
		trig := st.pending[0]
		st.pending = st.pending[1:]
		o.mu.Unlock()

		accountID, reason, queue, err := o.resolveQueue(conversationID, trig)

		o.mu.Lock()
		if err != nil {
			o.logger.Error("trigger resolution failed",
				"conversation_id", conversationID,
				"message_id", trig.MessageID,
				"error", err)
			continue
		}
		st.accountID = accountID
		st.reason = reason
		st.queue = queue
	}

	head := st.queue[0]
	st.queue = append([]turn.AgentRef(nil), st.queue[1:]...)
	remaining := make([]int64, len(st.queue))
	for i, a := range st.queue {
		remaining[i] = a.ID
	}

	turnCtx, cancel := context.WithCancel(o.ctx)
	st.cancel = cancel
	req := turn.Request{
		ConversationID: conversationID,
		AccountID:      st.accountID,
		Agent:          head,
		Reason:         st.reason,
		Remaining:      remaining,
	}
	o.mu.Unlock()

	outcome := o.runner.Run(turnCtx, req)
	cancel()

	o.mu.Lock()
	st.cancel = nil
	o.recordResult(resultKey{conversationID, head.ID}, outcome)
	o.mu.Unlock()

	o.logger.Info("turn finished",
		"conversation_id", conversationID,
		"agent_id", head.ID,
		"outcome", outcome.String(),
		"remaining", len(remaining))

	// Continuation: the rest of the queue runs as a new scheduled unit.
	o.wg.Add(1)
	go o.step(conversationID)
}

// resolveQueue turns a trigger into the ordered responder queue. Directed
// conversations route to the single designated responder; multi-agent
// conversations scan for mentions or, on broadcast, select every
// participant. Participants arrive ordered by ascending agent id and the
// queue preserves that order.
func (o *Orchestrator) resolveQueue(conversationID string, trig Trigger) (string, turn.TriggerReason, []turn.AgentRef, error) {
	conv, err := o.store.GetConversation(o.ctx, conversationID)
	if err != nil {
		return "", "", nil, fmt.Errorf("loading conversation: %w", err)
	}
	participants, err := o.store.ListParticipants(o.ctx, conversationID)
	if err != nil {
		return "", "", nil, fmt.Errorf("loading participants: %w", err)
	}

	if conv.Mode == store.ModeDirected {
		for _, a := range participants {
			if a.ID == conv.DirectedAgentID {
				return conv.AccountID, turn.TriggerManual, []turn.AgentRef{turn.SnapshotAgent(a)}, nil
			}
		}
		return "", "", nil, fmt.Errorf("directed responder %d is not a participant", conv.DirectedAgentID)
	}

	if trig.Broadcast {
		queue := make([]turn.AgentRef, 0, len(participants))
		for _, a := range participants {
			queue = append(queue, turn.SnapshotAgent(a))
		}
		return conv.AccountID, turn.TriggerBroadcast, queue, nil
	}

	names := make([]mention.Participant, 0, len(participants))
	byID := make(map[int64]*store.Agent, len(participants))
	for _, a := range participants {
		names = append(names, mention.Participant{ID: a.ID, Name: a.Name})
		byID[a.ID] = a
	}

	var queue []turn.AgentRef
	for _, id := range mention.Detect(trig.Text, names) {
		queue = append(queue, turn.SnapshotAgent(byID[id]))
	}
	return conv.AccountID, turn.TriggerMention, queue, nil
}
