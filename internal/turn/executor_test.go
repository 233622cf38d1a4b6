// ABOUTME: Tests for single-turn execution and failure classification
// ABOUTME: Uses a scripted stream client, mock store and recording sink

package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swombat/helix-chat/internal/fault"
	"github.com/swombat/helix-chat/internal/provider"
	"github.com/swombat/helix-chat/internal/store"
	"github.com/swombat/helix-chat/internal/stream"
)

// scriptedClient replays a fixed delta sequence, then fails or ends cleanly.
type scriptedClient struct {
	deltas []provider.Delta
	err    error

	// block, when set, ignores the script and waits for ctx cancellation.
	block bool

	mu     sync.Mutex
	prompt provider.Prompt
	desc   provider.Descriptor
}

func (c *scriptedClient) Open(ctx context.Context, desc provider.Descriptor, prompt provider.Prompt) (<-chan provider.Delta, <-chan error) {
	c.mu.Lock()
	c.prompt = prompt
	c.desc = desc
	c.mu.Unlock()

	deltas := make(chan provider.Delta)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltas)
		if c.block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		meter := provider.MeterFrom(ctx)
		for _, d := range c.deltas {
			select {
			case deltas <- d:
				if meter != nil {
					meter.Count(d.Kind)
				}
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if c.err != nil {
			errCh <- c.err
		}
	}()

	return deltas, errCh
}

func (c *scriptedClient) openedWith() (provider.Descriptor, provider.Prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc, c.prompt
}

// recordingSink captures every published update.
type recordingSink struct {
	mu      sync.Mutex
	updates []stream.Update
}

func (s *recordingSink) Publish(u stream.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) all() []stream.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Update(nil), s.updates...)
}

func (s *recordingSink) failures() []stream.Update {
	var out []stream.Update
	for _, u := range s.all() {
		if u.Failure != "" {
			out = append(out, u)
		}
	}
	return out
}

func testCapabilities() *provider.Table {
	return &provider.Table{
		Models: map[string]provider.Capability{
			"claude-x": {
				SupportsThinking: true,
				DefaultProvider:  "openrouter",
				ThinkingProvider: "anthropic_direct",
			},
			"petite-llm": {
				DefaultProvider: "openrouter",
			},
		},
		Providers: map[string]provider.ProviderInfo{
			"openrouter":       {Endpoint: "chat"},
			"anthropic_direct": {Endpoint: "messages"},
		},
	}
}

type fixture struct {
	store    *store.MockStore
	registry *provider.Registry
	sink     *recordingSink
	client   *scriptedClient
}

func newFixture(t *testing.T, client *scriptedClient) (*Executor, *fixture) {
	t.Helper()

	f := &fixture{
		store:    store.NewMockStore(),
		registry: provider.NewRegistry(),
		sink:     &recordingSink{},
		client:   client,
	}
	require.NoError(t, f.store.SaveCredential(t.Context(), &store.Credential{
		AccountID: "acct-1",
		Provider:  "openrouter",
		APIKey:    "sk-or-test",
	}))
	require.NoError(t, f.store.SaveCredential(t.Context(), &store.Credential{
		AccountID: "acct-1",
		Provider:  "anthropic_direct",
		APIKey:    "sk-ant-test",
	}))
	f.registry.Register("openrouter", client)
	f.registry.Register("anthropic_direct", client)

	exec := NewExecutor(f.store, f.store, testCapabilities(), f.registry, f.sink, Options{
		FlushInterval: time.Millisecond,
		CallTimeout:   5 * time.Second,
	}, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	return exec, f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testRequest() Request {
	return Request{
		ConversationID: "conv-1",
		AccountID:      "acct-1",
		Agent: AgentRef{
			ID:       3,
			Name:     "Scout",
			ModelID:  "petite-llm",
			Prompt:   "You are Scout.",
			Thinking: false,
		},
		Reason: TriggerMention,
	}
}

func TestRun_SuccessPersistsOneAssistantMessage(t *testing.T) {
	client := &scriptedClient{deltas: []provider.Delta{
		{Kind: provider.KindThinking, Text: "hmm, "},
		{Kind: provider.KindThinking, Text: "a greeting"},
		{Kind: provider.KindContent, Text: "Hello "},
		{Kind: provider.KindContent, Text: "there"},
	}}
	exec, f := newFixture(t, client)

	outcome := exec.Run(t.Context(), testRequest())
	assert.Equal(t, OutcomeSuccess, outcome)

	msgs, err := f.store.ListMessages(t.Context(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hello there", msgs[0].Content)
	assert.Equal(t, "hmm, a greeting", msgs[0].Thinking)
	require.NotNil(t, msgs[0].AgentID)
	assert.Equal(t, int64(3), *msgs[0].AgentID)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestRun_TerminalUpdatesCarryFullText(t *testing.T) {
	client := &scriptedClient{deltas: []provider.Delta{
		{Kind: provider.KindContent, Text: "part one, "},
		{Kind: provider.KindContent, Text: "part two"},
	}}
	exec, f := newFixture(t, client)

	outcome := exec.Run(t.Context(), testRequest())
	require.Equal(t, OutcomeSuccess, outcome)

	var finals []stream.Update
	for _, u := range f.sink.all() {
		if u.Final {
			finals = append(finals, u)
		}
	}
	require.Len(t, finals, 2)
	for _, u := range finals {
		assert.Equal(t, "conv-1", u.ConversationID)
		assert.Equal(t, int64(3), u.AgentID)
		if u.Channel == stream.ChannelContent {
			assert.Equal(t, "part one, part two", u.Text)
		}
	}
}

func TestRun_ThinkingModelRoutesToThinkingEndpoint(t *testing.T) {
	client := &scriptedClient{deltas: []provider.Delta{
		{Kind: provider.KindContent, Text: "ok"},
	}}
	exec, _ := newFixture(t, client)

	req := testRequest()
	req.Agent.ModelID = "claude-x"
	req.Agent.Thinking = true

	outcome := exec.Run(t.Context(), req)
	require.Equal(t, OutcomeSuccess, outcome)

	desc, _ := client.openedWith()
	assert.Equal(t, "anthropic_direct", desc.Provider)
	assert.Equal(t, provider.EndpointMessages, desc.Endpoint)
	assert.True(t, desc.Thinking)
}

func TestRun_UnknownModelIsFatalAndPersistsSystemMessage(t *testing.T) {
	exec, f := newFixture(t, &scriptedClient{})

	req := testRequest()
	req.Agent.ModelID = "no-such-model"

	outcome := exec.Run(t.Context(), req)
	assert.Equal(t, OutcomeFatal, outcome)

	msgs, err := f.store.ListMessages(t.Context(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Scout could not respond")
	assert.Contains(t, msgs[0].Content, "no-such-model")
}

func TestRun_MissingCredentialIsFatalBeforeAnyCall(t *testing.T) {
	client := &scriptedClient{deltas: []provider.Delta{
		{Kind: provider.KindContent, Text: "never sent"},
	}}
	exec, f := newFixture(t, client)

	req := testRequest()
	req.AccountID = "acct-without-keys"

	outcome := exec.Run(t.Context(), req)
	assert.Equal(t, OutcomeFatal, outcome)

	desc, _ := client.openedWith()
	assert.Empty(t, desc.Provider, "client must not be opened without a credential")

	msgs, err := f.store.ListMessages(t.Context(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "credential")
}

func TestRun_StreamErrorIsTransientAndPersistsNothing(t *testing.T) {
	client := &scriptedClient{
		deltas: []provider.Delta{
			{Kind: provider.KindContent, Text: "partial answ"},
		},
		err: errors.New("upstream hiccup"),
	}
	exec, f := newFixture(t, client)

	outcome := exec.Run(t.Context(), testRequest())
	assert.Equal(t, OutcomeTransient, outcome)

	msgs, err := f.store.ListMessages(t.Context(), "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "transient failures must not persist anything")

	// Partial text still reached live observers before the failure marker.
	var sawPartial bool
	for _, u := range f.sink.all() {
		if u.Channel == stream.ChannelContent && u.Text == "partial answ" {
			sawPartial = true
		}
	}
	assert.True(t, sawPartial)

	failures := f.sink.failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "temporary failure", failures[0].Failure)
	assert.True(t, failures[0].Final)
}

func TestRun_ConfigurationStreamErrorIsFatal(t *testing.T) {
	client := &scriptedClient{
		err: fault.Configurationf("model retired upstream"),
	}
	exec, f := newFixture(t, client)

	outcome := exec.Run(t.Context(), testRequest())
	assert.Equal(t, OutcomeFatal, outcome)

	msgs, err := f.store.ListMessages(t.Context(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "model retired upstream")
}

func TestRun_CancellationIsTransientWithStoppedMarker(t *testing.T) {
	client := &scriptedClient{block: true}
	exec, f := newFixture(t, client)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan Outcome, 1)
	go func() { done <- exec.Run(ctx, testRequest()) }()

	// Give the turn time to reach the stream before stopping it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeTransient, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled turn did not finish")
	}

	msgs, err := f.store.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	failures := f.sink.failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "stopped", failures[0].Failure)
}

func TestRun_ProviderAbortWhileContextLiveIsNotCancellation(t *testing.T) {
	// A context.Canceled surfaced by the provider while the turn's own
	// context is still live is an upstream abort, not a stop.
	client := &scriptedClient{err: context.Canceled}
	exec, f := newFixture(t, client)

	outcome := exec.Run(t.Context(), testRequest())
	assert.Equal(t, OutcomeTransient, outcome)

	failures := f.sink.failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "temporary failure", failures[0].Failure)
}

func TestRun_CallTimeoutIsTransient(t *testing.T) {
	client := &scriptedClient{block: true}
	f := &fixture{
		store:    store.NewMockStore(),
		registry: provider.NewRegistry(),
		sink:     &recordingSink{},
	}
	require.NoError(t, f.store.SaveCredential(t.Context(), &store.Credential{
		AccountID: "acct-1", Provider: "openrouter", APIKey: "sk",
	}))
	f.registry.Register("openrouter", client)

	exec := NewExecutor(f.store, f.store, testCapabilities(), f.registry, f.sink, Options{
		FlushInterval: time.Millisecond,
		CallTimeout:   30 * time.Millisecond,
	}, nil)

	outcome := exec.Run(t.Context(), testRequest())
	assert.Equal(t, OutcomeTransient, outcome)

	msgs, err := f.store.ListMessages(t.Context(), "conv-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	failures := f.sink.failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "temporary failure", failures[0].Failure)
}

func TestRun_PersistenceFailureIsTransient(t *testing.T) {
	client := &scriptedClient{deltas: []provider.Delta{
		{Kind: provider.KindContent, Text: "done"},
	}}
	exec, f := newFixture(t, client)
	f.store.SaveMessageErr = errors.New("disk full")

	outcome := exec.Run(t.Context(), testRequest())
	assert.Equal(t, OutcomeTransient, outcome)

	failures := f.sink.failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "persistence failure", failures[0].Failure)
}

func TestBuildPrompt_OtherAgentsReadAsUserInput(t *testing.T) {
	exec, f := newFixture(t, &scriptedClient{})

	otherID := int64(9)
	selfID := int64(3)
	seed := []*store.Message{
		{ID: "m1", ConversationID: "conv-1", Role: store.RoleUser, Content: "hello all"},
		{ID: "m2", ConversationID: "conv-1", Role: store.RoleAssistant, AgentID: &otherID, Content: "I am Rook"},
		{ID: "m3", ConversationID: "conv-1", Role: store.RoleAssistant, AgentID: &selfID, Content: "I am Scout"},
		{ID: "m4", ConversationID: "conv-1", Role: store.RoleSystem, Content: "Rook could not respond: boom"},
	}
	for _, m := range seed {
		require.NoError(t, f.store.SaveMessage(t.Context(), m))
	}

	prompt, err := exec.buildPrompt(t.Context(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "You are Scout.", prompt.System)
	require.Len(t, prompt.History, 3, "system annotations are not replayed upstream")
	assert.Equal(t, "user", prompt.History[0].Role)
	assert.Equal(t, "user", prompt.History[1].Role, "another agent's reply reads as user input")
	assert.Equal(t, "I am Rook", prompt.History[1].Content)
	assert.Equal(t, "assistant", prompt.History[2].Role)
}

func TestSnapshotAgent_CopiesTurnFields(t *testing.T) {
	agent := &store.Agent{
		ID:       7,
		Name:     "Archivist",
		ModelID:  "claude-x",
		Thinking: true,
		Prompt:   "You keep records.",
	}
	ref := SnapshotAgent(agent)
	assert.Equal(t, int64(7), ref.ID)
	assert.Equal(t, "Archivist", ref.Name)
	assert.Equal(t, "claude-x", ref.ModelID)
	assert.True(t, ref.Thinking)
	assert.Equal(t, "You keep records.", ref.Prompt)

	// Later edits to the stored agent do not reach the snapshot.
	agent.ModelID = "petite-llm"
	assert.Equal(t, "claude-x", ref.ModelID)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "transient_error", OutcomeTransient.String())
	assert.Equal(t, "fatal_error", OutcomeFatal.String())
}
