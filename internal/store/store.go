// ABOUTME: Store interface and data types for helix-chat persistence
// ABOUTME: Defines Conversation, Agent, Message structs and the Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose ID already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ConversationMode controls how responders are chosen for inbound messages.
type ConversationMode string

const (
	// ModeManual is the multi-agent mode: agents respond when mentioned by name.
	ModeManual ConversationMode = "manual"
	// ModeDirected routes every inbound message to one designated responder.
	ModeDirected ConversationMode = "directed"
)

// Conversation is one chat thread. Participants are agents joined to it.
type Conversation struct {
	ID              string
	AccountID       string
	Title           string
	Mode            ConversationMode
	DirectedAgentID int64 // responder when Mode is ModeDirected; 0 otherwise
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Agent is a configured AI participant. The executor snapshots these
// fields at turn start so mid-turn reconfiguration cannot race a
// running turn.
type Agent struct {
	ID        int64
	AccountID string
	Name      string
	ModelID   string
	Thinking  bool
	Prompt    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry in a conversation's append-only log. AgentID is nil
// for user and system messages. Thinking carries the optional reasoning
// text captured alongside assistant content.
type Message struct {
	ID             string
	ConversationID string
	AgentID        *int64
	Role           string
	Content        string
	Thinking       string
	CreatedAt      time.Time
}

// Credential is a provider API credential held by an account.
type Credential struct {
	AccountID string
	Provider  string
	APIKey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the persistence contract for conversations, agents,
// messages, and credentials.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	ListConversations(ctx context.Context, accountID string, limit int) ([]*Conversation, error)

	// Agents and participation
	CreateAgent(ctx context.Context, agent *Agent) (int64, error)
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	ListAgents(ctx context.Context, accountID string) ([]*Agent, error)
	AddParticipant(ctx context.Context, conversationID string, agentID int64) error
	RemoveParticipant(ctx context.Context, conversationID string, agentID int64) error
	// ListParticipants returns the conversation's agents ordered by
	// ascending agent ID, the order dispatch queues are built in.
	ListParticipants(ctx context.Context, conversationID string) ([]*Agent, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Credentials
	SaveCredential(ctx context.Context, cred *Credential) error
	HasCredential(ctx context.Context, accountID, provider string) (bool, error)

	// Close releases any resources held by the store
	Close() error
}
