// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu           sync.RWMutex
	convs        map[string]*Conversation
	agents       map[int64]*Agent
	participants map[string][]int64 // conversationID -> agent IDs
	messages     map[string][]*Message
	credentials  map[string]bool // "accountID:provider" -> present
	nextAgentID  int64

	// SaveMessageErr, when set, is returned by SaveMessage. Lets tests
	// exercise persistence failures.
	SaveMessageErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		convs:        make(map[string]*Conversation),
		agents:       make(map[int64]*Agent),
		participants: make(map[string][]int64),
		messages:     make(map[string][]*Message),
		credentials:  make(map[string]bool),
		nextAgentID:  1,
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.convs[conv.ID]; exists {
		return ErrDuplicateConversation
	}
	c := *conv
	m.convs[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// UpdateConversation replaces a stored conversation.
func (m *MockStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[conv.ID]; !ok {
		return ErrNotFound
	}
	c := *conv
	m.convs[c.ID] = &c
	return nil
}

// ListConversations returns an account's conversations.
func (m *MockStore) ListConversations(ctx context.Context, accountID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range m.convs {
		if conv.AccountID == accountID {
			c := *conv
			convs = append(convs, &c)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// CreateAgent stores an agent and assigns it an ID.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.ID == 0 {
		agent.ID = m.nextAgentID
		m.nextAgentID++
	} else if agent.ID >= m.nextAgentID {
		m.nextAgentID = agent.ID + 1
	}
	a := *agent
	m.agents[a.ID] = &a
	return a.ID, nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := *agent
	return &a, nil
}

// UpdateAgent replaces a stored agent.
func (m *MockStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; !ok {
		return ErrNotFound
	}
	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// ListAgents returns an account's agents ordered by ascending ID.
func (m *MockStore) ListAgents(ctx context.Context, accountID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, agent := range m.agents {
		if agent.AccountID == accountID {
			a := *agent
			agents = append(agents, &a)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// AddParticipant joins an agent to a conversation.
func (m *MockStore) AddParticipant(ctx context.Context, conversationID string, agentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.participants[conversationID] {
		if id == agentID {
			return nil
		}
	}
	m.participants[conversationID] = append(m.participants[conversationID], agentID)
	return nil
}

// RemoveParticipant removes an agent from a conversation.
func (m *MockStore) RemoveParticipant(ctx context.Context, conversationID string, agentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.participants[conversationID]
	for i, id := range ids {
		if id == agentID {
			m.participants[conversationID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListParticipants returns a conversation's agents ordered by ascending ID.
func (m *MockStore) ListParticipants(ctx context.Context, conversationID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := append([]int64(nil), m.participants[conversationID]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var agents []*Agent
	for _, id := range ids {
		if agent, ok := m.agents[id]; ok {
			a := *agent
			agents = append(agents, &a)
		}
	}
	return agents, nil
}

// SaveMessage appends a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveMessageErr != nil {
		return m.SaveMessageErr
	}
	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		msgCopy := *msg
		result[i] = &msgCopy
	}
	return result, nil
}

// SaveCredential records that a credential exists.
func (m *MockStore) SaveCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[cred.AccountID+":"+cred.Provider] = cred.APIKey != ""
	return nil
}

// HasCredential reports whether a credential was recorded.
func (m *MockStore) HasCredential(ctx context.Context, accountID, provider string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.credentials[accountID+":"+provider], nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
