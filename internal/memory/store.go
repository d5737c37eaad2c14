// Package memory provides persistent conversation storage.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ember-agent/internal/chatlog"
)

// Role values stored in the messages table.
const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// Conversation describes a stored conversation.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

// Store persists conversation transcripts in SQLite. The caller owns
// the *sql.DB and picks the driver.
type Store struct {
	db         *sql.DB
	maxHistory int
}

// NewStore creates a conversation store and applies the schema.
// maxHistory caps how many messages are retained per conversation;
// zero or negative means 200.
func NewStore(db *sql.DB, maxHistory int) (*Store, error) {
	if maxHistory <= 0 {
		maxHistory = 200
	}

	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		tool_result TEXT,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, maxHistory: maxHistory}, nil
}

// touch ensures the conversation row exists and bumps updated_at.
func (s *Store) touch(conversationID string, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, conversationID, now, now)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// Append stores one chat entry at the end of a conversation and prunes
// history beyond the retention cap.
func (s *Store) Append(conversationID string, content chatlog.Content) error {
	now := time.Now()
	if err := s.touch(conversationID, now); err != nil {
		return err
	}

	msgID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}

	var role, text string
	var toolCalls, toolCallID, toolName, toolResult sql.NullString

	switch c := content.(type) {
	case chatlog.SystemContent:
		role, text = roleSystem, c.Text
	case chatlog.UserContent:
		role, text = roleUser, c.Text
	case chatlog.AssistantContent:
		role, text = roleAssistant, c.Content
		if len(c.ToolCalls) > 0 {
			raw, err := json.Marshal(c.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(raw), Valid: true}
		}
	case chatlog.ToolResultContent:
		role = roleTool
		toolCallID = sql.NullString{String: c.ToolCallID, Valid: true}
		toolName = sql.NullString{String: c.ToolName, Valid: true}
		raw, err := json.Marshal(c.Result)
		if err != nil {
			return fmt.Errorf("marshal tool result: %w", err)
		}
		toolResult = sql.NullString{String: string(raw), Valid: true}
	default:
		return fmt.Errorf("unsupported content type %T", content)
	}

	_, err = s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name, tool_result, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msgID.String(), conversationID, role, text, toolCalls, toolCallID, toolName, toolResult, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return s.prune(conversationID)
}

// prune drops the oldest messages once a conversation exceeds the
// retention cap.
func (s *Store) prune(conversationID string) error {
	_, err := s.db.Exec(`
		DELETE FROM messages
		WHERE conversation_id = ? AND seq NOT IN (
			SELECT seq FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, conversationID, conversationID, s.maxHistory)
	if err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	return nil
}

// Load rebuilds a conversation's chat entries in order. A missing
// conversation yields an empty slice.
func (s *Store) Load(conversationID string) ([]chatlog.Content, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, tool_name, tool_result
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var contents []chatlog.Content
	for rows.Next() {
		var role, text string
		var toolCalls, toolCallID, toolName, toolResult sql.NullString
		if err := rows.Scan(&role, &text, &toolCalls, &toolCallID, &toolName, &toolResult); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		switch role {
		case roleSystem:
			contents = append(contents, chatlog.SystemContent{Text: text})
		case roleUser:
			contents = append(contents, chatlog.UserContent{Text: text})
		case roleAssistant:
			ac := chatlog.AssistantContent{Content: text}
			if toolCalls.Valid {
				if err := json.Unmarshal([]byte(toolCalls.String), &ac.ToolCalls); err != nil {
					return nil, fmt.Errorf("unmarshal tool calls: %w", err)
				}
			}
			contents = append(contents, ac)
		case roleTool:
			tc := chatlog.ToolResultContent{
				ToolCallID: toolCallID.String,
				ToolName:   toolName.String,
			}
			if toolResult.Valid {
				if err := json.Unmarshal([]byte(toolResult.String), &tc.Result); err != nil {
					return nil, fmt.Errorf("unmarshal tool result: %w", err)
				}
			}
			contents = append(contents, tc)
		default:
			return nil, fmt.Errorf("unknown role %q", role)
		}
	}
	return contents, rows.Err()
}

// GetConversation returns conversation metadata, or nil when unknown.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRow(`
		SELECT c.id, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?
	`, id).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt, &conv.Messages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns all conversations, most recently updated
// first.
func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt, &conv.Messages); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Clear removes a conversation and its messages.
func (s *Store) Clear(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats returns storage statistics.
func (s *Store) Stats() map[string]any {
	var convCount, msgCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&msgCount)

	return map[string]any{
		"conversations": convCount,
		"messages":      msgCount,
		"max_history":   s.maxHistory,
		"storage":       "sqlite",
	}
}
