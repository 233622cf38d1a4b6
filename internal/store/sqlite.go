// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'manual',
			directed_agent_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_account
			ON conversations(account_id, updated_at);

		CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			model_id TEXT NOT NULL,
			thinking INTEGER NOT NULL DEFAULT 0,
			prompt TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS participants (
			conversation_id TEXT NOT NULL,
			agent_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, agent_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_id INTEGER,
			role TEXT NOT NULL DEFAULT 'user',
			content TEXT NOT NULL,
			thinking TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS credentials (
			account_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			api_key TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, provider)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a conversation.
// Returns ErrDuplicateConversation if the ID is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, account_id, title, mode, directed_agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AccountID,
		conv.Title,
		string(conv.Mode),
		conv.DirectedAgentID,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "mode", conv.Mode)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, account_id, title, mode, directed_agent_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	var mode, createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.AccountID,
		&conv.Title,
		&mode,
		&conv.DirectedAgentID,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Mode = ConversationMode(mode)
	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// UpdateConversation updates title, mode, and directed responder.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		UPDATE conversations
		SET title = ?, mode = ?, directed_agent_id = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		conv.Title,
		string(conv.Mode),
		conv.DirectedAgentID,
		time.Now().UTC().Format(time.RFC3339),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns an account's conversations, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context, accountID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, account_id, title, mode, directed_agent_id, created_at, updated_at
		FROM conversations
		WHERE account_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var mode, createdAtStr, updatedAtStr string
		if err := rows.Scan(
			&conv.ID,
			&conv.AccountID,
			&conv.Title,
			&mode,
			&conv.DirectedAgentID,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.Mode = ConversationMode(mode)
		if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// CreateAgent inserts an agent and returns its assigned ID.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) (int64, error) {
	query := `
		INSERT INTO agents (account_id, name, model_id, thinking, prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		agent.AccountID,
		agent.Name,
		agent.ModelID,
		boolToInt(agent.Thinking),
		agent.Prompt,
		agent.CreatedAt.UTC().Format(time.RFC3339),
		agent.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting agent: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading agent id: %w", err)
	}
	agent.ID = id

	s.logger.Debug("created agent", "id", id, "name", agent.Name, "model", agent.ModelID)
	return id, nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	query := `
		SELECT id, account_id, name, model_id, thinking, prompt, created_at, updated_at
		FROM agents
		WHERE id = ?
	`

	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// UpdateAgent updates an agent's configuration.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	query := `
		UPDATE agents
		SET name = ?, model_id = ?, thinking = ?, prompt = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		agent.Name,
		agent.ModelID,
		boolToInt(agent.Thinking),
		agent.Prompt,
		time.Now().UTC().Format(time.RFC3339),
		agent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns an account's agents ordered by ascending ID.
func (s *SQLiteStore) ListAgents(ctx context.Context, accountID string) ([]*Agent, error) {
	query := `
		SELECT id, account_id, name, model_id, thinking, prompt, created_at, updated_at
		FROM agents
		WHERE account_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// AddParticipant joins an agent to a conversation. Re-adding an existing
// participant is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID string, agentID int64) error {
	query := `
		INSERT INTO participants (conversation_id, agent_id, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conversationID,
		agentID,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil
		}
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

// RemoveParticipant removes an agent from a conversation.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, conversationID string, agentID int64) error {
	query := `DELETE FROM participants WHERE conversation_id = ? AND agent_id = ?`

	if _, err := s.db.ExecContext(ctx, query, conversationID, agentID); err != nil {
		return fmt.Errorf("deleting participant: %w", err)
	}
	return nil
}

// ListParticipants returns a conversation's agents ordered by ascending
// agent ID. The orchestrator relies on this order for dispatch.
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID string) ([]*Agent, error) {
	query := `
		SELECT a.id, a.account_id, a.name, a.model_id, a.thinking, a.prompt, a.created_at, a.updated_at
		FROM agents a
		INNER JOIN participants p ON p.agent_id = a.id
		WHERE p.conversation_id = ?
		ORDER BY a.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// SaveMessage appends a message to a conversation's log.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, agent_id, role, content, thinking, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var agentID interface{}
	if msg.AgentID != nil {
		agentID = *msg.AgentID
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		agentID,
		msg.Role,
		msg.Content,
		msg.Thinking,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"role", msg.Role)
	return nil
}

// ListMessages returns the most recent messages of a conversation in
// chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	// Fetch the newest N, then reverse into chronological order. Timestamps
	// have whole-second precision, so ties are broken by insertion order to
	// keep messages written within the same second in dispatch order.
	query := `
		SELECT id, conversation_id, agent_id, role, content, thinking, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var agentID sql.NullInt64
		var createdAtStr string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&agentID,
			&msg.Role,
			&msg.Content,
			&msg.Thinking,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if agentID.Valid {
			v := agentID.Int64
			msg.AgentID = &v
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SaveCredential inserts or replaces a provider credential for an account.
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred *Credential) error {
	query := `
		INSERT INTO credentials (account_id, provider, api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, provider) DO UPDATE SET
			api_key = excluded.api_key,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		cred.AccountID,
		cred.Provider,
		cred.APIKey,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// HasCredential reports whether the account holds a non-empty credential
// for the provider.
func (s *SQLiteStore) HasCredential(ctx context.Context, accountID, provider string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM credentials
		WHERE account_id = ? AND provider = ? AND api_key != ''
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, accountID, provider).Scan(&count); err != nil {
		return false, fmt.Errorf("querying credential: %w", err)
	}
	return count > 0, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var thinking int
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&agent.ID,
		&agent.AccountID,
		&agent.Name,
		&agent.ModelID,
		&thinking,
		&agent.Prompt,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	agent.Thinking = thinking != 0
	if agent.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if agent.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &agent, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
