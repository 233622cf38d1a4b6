// ABOUTME: Executes one agent turn: resolve provider, stream deltas, persist the result
// ABOUTME: Sole translator of upstream faults into the pipeline error taxonomy

// Package turn runs a single agent response turn from provider resolution
// through streaming to persistence.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/swombat/helix-chat/internal/fault"
	"github.com/swombat/helix-chat/internal/provider"
	"github.com/swombat/helix-chat/internal/store"
	"github.com/swombat/helix-chat/internal/stream"
)

// TriggerReason records why a turn was scheduled.
type TriggerReason string

const (
	TriggerMention   TriggerReason = "mention"
	TriggerBroadcast TriggerReason = "broadcast"
	TriggerManual    TriggerReason = "manual"
)

// AgentRef is an immutable snapshot of an agent's configuration taken at
// turn start, so mid-turn edits to the agent never race a running turn.
type AgentRef struct {
	ID       int64
	Name     string
	ModelID  string
	Thinking bool
	Prompt   string
}

// SnapshotAgent captures the fields a turn needs from a stored agent.
func SnapshotAgent(a *store.Agent) AgentRef {
	return AgentRef{
		ID:       a.ID,
		Name:     a.Name,
		ModelID:  a.ModelID,
		Thinking: a.Thinking,
		Prompt:   a.Prompt,
	}
}

// Request describes one turn to run. Remaining carries the undispatched
// responder queue; the orchestrator reschedules it after this turn ends.
// A Request is consumed exactly once and never persisted.
type Request struct {
	ConversationID string
	AccountID      string
	Agent          AgentRef
	Reason         TriggerReason
	Remaining      []int64
}

// Outcome classifies how a turn ended.
type Outcome int

const (
	// OutcomeSuccess: the turn completed and one assistant message was persisted.
	OutcomeSuccess Outcome = iota
	// OutcomeTransient: the turn failed retryably (or was cancelled); nothing persisted.
	OutcomeTransient
	// OutcomeFatal: configuration failure; a system error message was persisted.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient_error"
	case OutcomeFatal:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// MessageStore is what the executor needs from persistence.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// CredentialChecker answers whether an account holds a provider credential.
type CredentialChecker interface {
	HasCredential(ctx context.Context, accountID, provider string) (bool, error)
}

// ClientResolver maps a provider name to its stream client.
type ClientResolver interface {
	For(name string) (provider.StreamClient, bool)
}

// Options tune executor behavior.
type Options struct {
	// FlushInterval is the debounce window for stream buffers.
	FlushInterval time.Duration
	// CallTimeout bounds the upstream streaming call. Expiry is treated
	// as a transient failure.
	CallTimeout time.Duration
	// HistoryLimit caps how many prior messages are sent upstream.
	HistoryLimit int
}

func (o *Options) setDefaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 250 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 2 * time.Minute
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
}

// Executor runs turns. It owns no per-turn state: stream buffers and the
// delta meter are created fresh inside Run and die with it.
type Executor struct {
	store   MessageStore
	creds   CredentialChecker
	table   provider.CapabilityTable
	clients ClientResolver
	sink    stream.Sink
	opts    Options
	logger  *slog.Logger
}

// NewExecutor creates an executor. Pass nil logger for default.
func NewExecutor(
	msgStore MessageStore,
	creds CredentialChecker,
	table provider.CapabilityTable,
	clients ClientResolver,
	sink stream.Sink,
	opts Options,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	opts.setDefaults()
	return &Executor{
		store:   msgStore,
		creds:   creds,
		table:   table,
		clients: clients,
		sink:    sink,
		opts:    opts,
		logger:  logger.With("component", "executor"),
	}
}

// Run executes one turn to completion and returns its outcome.
//
// Exactly one message is persisted for a successful or fatal turn; none
// for a transient one. Partial text accumulated before a failure is still
// flushed to the sink so live observers see it.
func (e *Executor) Run(ctx context.Context, req Request) Outcome {
	logger := e.logger.With(
		"conversation_id", req.ConversationID,
		"agent_id", req.Agent.ID,
		"model", req.Agent.ModelID,
		"reason", req.Reason,
	)

	desc, err := provider.Select(req.Agent.ModelID, req.Agent.Thinking, e.table)
	if err != nil {
		logger.Warn("provider resolution failed", "error", err)
		return e.failFatal(ctx, req, nil, nil, err)
	}
	logger = logger.With("provider", desc.Provider, "endpoint", string(desc.Endpoint))

	// Credential pre-check: fail before any network call, and fail in a
	// way distinguishable from a transient provider error.
	has, err := e.creds.HasCredential(ctx, req.AccountID, desc.Provider)
	if err != nil {
		logger.Error("credential lookup failed", "error", err)
		return e.failTransient(req, nil, nil, fault.Transientf(err, "credential lookup"))
	}
	if !has {
		err := fault.Configurationf("no %s credential for account %s", desc.Provider, req.AccountID)
		logger.Warn("missing credential", "error", err)
		return e.failFatal(ctx, req, nil, nil, err)
	}

	client, ok := e.clients.For(desc.Provider)
	if !ok {
		err := fault.Configurationf("no client registered for provider %q", desc.Provider)
		logger.Error("unknown provider client", "error", err)
		return e.failFatal(ctx, req, nil, nil, err)
	}

	prompt, err := e.buildPrompt(ctx, req)
	if err != nil {
		logger.Error("history load failed", "error", err)
		return e.failTransient(req, nil, nil, fault.Transientf(err, "loading history"))
	}

	thinkingBuf := stream.NewBuffer(req.ConversationID, req.Agent.ID, stream.ChannelThinking, e.opts.FlushInterval, e.sink)
	contentBuf := stream.NewBuffer(req.ConversationID, req.Agent.ID, stream.ChannelContent, e.opts.FlushInterval, e.sink)

	meter := &provider.Meter{}
	callCtx, cancel := context.WithTimeout(provider.ContextWithMeter(ctx, meter), e.opts.CallTimeout)
	defer cancel()

	deltas, errCh := client.Open(callCtx, desc, prompt)

	streamErr := e.consume(callCtx, deltas, errCh, thinkingBuf, contentBuf)

	logger.Debug("stream finished",
		"thinking_chunks", meter.ThinkingChunks(),
		"content_chunks", meter.ContentChunks(),
		"error", streamErr)

	if streamErr != nil {
		classified := e.translate(ctx, streamErr)
		switch classified.(type) {
		case *fault.ConfigurationError:
			return e.failFatal(ctx, req, thinkingBuf, contentBuf, classified)
		default:
			return e.failTransient(req, thinkingBuf, contentBuf, classified)
		}
	}

	e.finalize(thinkingBuf, contentBuf)

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		AgentID:        &req.Agent.ID,
		Role:           store.RoleAssistant,
		Content:        contentBuf.Text(),
		Thinking:       thinkingBuf.Text(),
		CreatedAt:      time.Now(),
	}
	if err := e.saveMessage(msg); err != nil {
		logger.Error("persisting assistant message failed", "error", err)
		e.publishFailure(req, "persistence failure")
		return OutcomeTransient
	}

	logger.Info("turn completed", "message_id", msg.ID, "content_len", len(msg.Content))
	return OutcomeSuccess
}

// consume routes deltas into the channel buffers until the stream ends.
// Returns nil for a clean end of stream.
func (e *Executor) consume(
	ctx context.Context,
	deltas <-chan provider.Delta,
	errCh <-chan error,
	thinkingBuf, contentBuf *stream.Buffer,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, open := <-deltas:
			if !open {
				// Clients send any error before closing the delta
				// channel, so a non-blocking read is reliable here.
				select {
				case err := <-errCh:
					return err
				default:
					return nil
				}
			}
			var appendErr error
			if d.Kind == provider.KindThinking {
				appendErr = thinkingBuf.Append(d.Text)
			} else {
				appendErr = contentBuf.Append(d.Text)
			}
			if appendErr != nil {
				// Delta after finalize is an upstream termination bug.
				// Log loudly, drop the fragment, keep state intact.
				e.logger.Error("stream contract violation", "error", appendErr)
			}
		}
	}
}

// buildPrompt assembles the provider prompt from the agent's configured
// prompt and the conversation history. System error messages are local
// annotations and are not replayed upstream.
func (e *Executor) buildPrompt(ctx context.Context, req Request) (provider.Prompt, error) {
	msgs, err := e.store.ListMessages(ctx, req.ConversationID, e.opts.HistoryLimit)
	if err != nil {
		return provider.Prompt{}, err
	}

	history := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			history = append(history, provider.Message{Role: "user", Content: m.Content})
		case store.RoleAssistant:
			role := "assistant"
			if m.AgentID == nil || *m.AgentID != req.Agent.ID {
				// Another agent's reply reads as user input to this one.
				role = "user"
			}
			history = append(history, provider.Message{Role: role, Content: m.Content})
		}
	}

	return provider.Prompt{System: req.Agent.Prompt, History: history}, nil
}

// translate maps a raw stream error into the pipeline taxonomy. The
// executor is the only component that performs this translation.
func (e *Executor) translate(ctx context.Context, err error) error {
	switch {
	case fault.IsConfiguration(err):
		return err
	case fault.IsCancellation(err):
		return err
	case errors.Is(err, context.Canceled):
		// Only an explicit stop of the turn context counts as cancellation.
		// A context.Canceled surfaced while our context is still live is a
		// provider-internal abort, as is an expired call budget.
		if errors.Is(ctx.Err(), context.Canceled) {
			return &fault.CancellationError{Err: err}
		}
		return fault.Transientf(err, "call aborted")
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Transientf(err, "upstream call timeout")
	case fault.IsTransient(err):
		return err
	default:
		return fault.Transientf(err, "provider stream")
	}
}

// failTransient finalizes buffers with partial text, emits a live failure
// marker, and persists nothing.
func (e *Executor) failTransient(req Request, thinkingBuf, contentBuf *stream.Buffer, err error) Outcome {
	e.finalize(thinkingBuf, contentBuf)

	reason := "temporary failure"
	if fault.IsCancellation(err) {
		reason = "stopped"
	}
	e.publishFailure(req, reason)

	e.logger.Warn("turn failed transiently",
		"conversation_id", req.ConversationID,
		"agent_id", req.Agent.ID,
		"cancelled", fault.IsCancellation(err),
		"error", err)
	return OutcomeTransient
}

// failFatal finalizes buffers and persists a durable, user-visible system
// error message.
func (e *Executor) failFatal(ctx context.Context, req Request, thinkingBuf, contentBuf *stream.Buffer, err error) Outcome {
	e.finalize(thinkingBuf, contentBuf)

	content := fmt.Sprintf("%s could not respond: %v", req.Agent.Name, err)
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		AgentID:        &req.Agent.ID,
		Role:           store.RoleSystem,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if saveErr := e.saveMessage(msg); saveErr != nil {
		e.logger.Error("persisting system error message failed",
			"conversation_id", req.ConversationID,
			"error", saveErr)
	}

	e.publishFailure(req, content)
	return OutcomeFatal
}

func (e *Executor) finalize(bufs ...*stream.Buffer) {
	for _, b := range bufs {
		if b == nil {
			continue
		}
		if err := b.Finalize(); err != nil {
			e.logger.Error("buffer finalize contract violation", "error", err)
		}
	}
}

// saveMessage persists with a detached timeout context so a cancelled turn
// can still write its durable record.
func (e *Executor) saveMessage(msg *store.Message) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.store.SaveMessage(saveCtx, msg)
}

func (e *Executor) publishFailure(req Request, reason string) {
	e.sink.Publish(stream.Update{
		ConversationID: req.ConversationID,
		AgentID:        req.Agent.ID,
		Channel:        stream.ChannelContent,
		Final:          true,
		Failure:        reason,
	})
}
