package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samsaffron/chatstream/internal/chat"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    turns INTEGER DEFAULT 0,
    tool_calls INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    status TEXT DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS messages (
    pk INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    type TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    attachments TEXT,
    enabled_tools TEXT,
    preset BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sequence ON messages(conversation_id, sequence);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='pk'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.pk, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.pk, old.content);
END;
`

// schemaVersion is stored in PRAGMA user_version. Bump it together with
// the schema and add the upgrade to initSchema.
const schemaVersion = 1

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// Create inserts a new conversation, assigning an ID when empty.
func (s *SQLiteStore) Create(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = chat.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Status == "" {
		c.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, provider, model, created_at, updated_at,
		                           turns, tool_calls, input_tokens, output_tokens, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Provider, c.Model, c.CreatedAt, c.UpdatedAt,
		c.Turns, c.ToolCalls, c.InputTokens, c.OutputTokens, string(c.Status))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.provider, c.model, c.created_at, c.updated_at,
		       c.turns, c.tool_calls, c.input_tokens, c.output_tokens, c.status,
		       (SELECT COUNT(*) FROM messages WHERE conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, id)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var title, status sql.NullString
	err := row.Scan(&c.ID, &title, &c.Provider, &c.Model, &c.CreatedAt, &c.UpdatedAt,
		&c.Turns, &c.ToolCalls, &c.InputTokens, &c.OutputTokens, &status, &c.MessageCount)
	if err != nil {
		return nil, err
	}
	c.Title = title.String
	c.Status = Status(status.String)
	return &c, nil
}

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	// Foreign key cascade handles messages
	result, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", id)
	}
	return nil
}

// List returns the most recently updated conversations first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.provider, c.model, c.created_at, c.updated_at,
		       c.turns, c.tool_calls, c.input_tokens, c.output_tokens, c.status,
		       (SELECT COUNT(*) FROM messages WHERE conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

// Search finds messages containing the query text using FTS5.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, m.id, c.title, snippet(messages_fts, 0, '**', '**', '...', 32), m.created_at
		FROM messages_fts f
		JOIN messages m ON m.pk = f.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var title sql.NullString
		if err := rows.Scan(&r.ConversationID, &r.MessageID, &title, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Title = title.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// AddMessage appends a message, allocating the next sequence number inside
// a transaction. Attachment bytes read from disk are not stored; the path
// is kept so the file can be read again.
func (s *SQLiteStore) AddMessage(ctx context.Context, conversationID string, msg *chat.Message) error {
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return fmt.Errorf("serialize attachments: %w", err)
	}
	var tools sql.NullString
	if msg.EnabledTools != nil {
		data, err := json.Marshal(msg.EnabledTools)
		if err != nil {
			return fmt.Errorf("serialize enabled tools: %w", err)
		}
		tools = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	seq := 0
	if maxSeq.Valid {
		seq = int(maxSeq.Int64) + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sequence, role, type, content, attachments, enabled_tools, preset, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, seq, string(msg.Role), string(msg.Type), msg.Content,
		attachments, tools, msg.Preset, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	msg.Index = seq
	return nil
}

// Messages returns all messages of a conversation in sequence order.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, role, type, content, attachments, enabled_tools, preset, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role, typ string
		var attachments, tools sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Index, &role, &typ, &msg.Content,
			&attachments, &tools, &msg.Preset, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.Type = chat.MessageType(typ)
		if attachments.Valid && attachments.String != "" {
			atts, err := unmarshalAttachments(attachments.String)
			if err != nil {
				return nil, fmt.Errorf("decode attachments of %s: %w", msg.ID, err)
			}
			msg.Attachments = atts
		}
		if tools.Valid {
			if err := json.Unmarshal([]byte(tools.String), &msg.EnabledTools); err != nil {
				return nil, fmt.Errorf("decode enabled tools of %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AddUsage adds one ask's metrics to the conversation totals.
func (s *SQLiteStore) AddUsage(ctx context.Context, id string, turns, toolCalls, inputTokens, outputTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
		       turns = turns + ?,
		       tool_calls = tool_calls + ?,
		       input_tokens = input_tokens + ?,
		       output_tokens = output_tokens + ?,
		       updated_at = ?
		WHERE id = ?`,
		turns, toolCalls, inputTokens, outputTokens, time.Now(), id)
	return err
}

// UpdateStatus updates just the conversation status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = ?, updated_at = ?
		WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// storedAttachment is the persisted form of chat.Attachment.
type storedAttachment struct {
	ID       string              `json:"id,omitempty"`
	Kind     chat.AttachmentKind `json:"kind"`
	Name     string              `json:"name"`
	Path     string              `json:"path,omitempty"`
	Data     []byte              `json:"data,omitempty"`
	Size     int64               `json:"size,omitempty"`
	MIMEType string              `json:"mime_type,omitempty"`
}

func marshalAttachments(atts []chat.Attachment) (sql.NullString, error) {
	if len(atts) == 0 {
		return sql.NullString{}, nil
	}
	stored := make([]storedAttachment, 0, len(atts))
	for _, a := range atts {
		sa := storedAttachment{ID: a.ID, Kind: a.Kind, Name: a.Name, Path: a.Path, Size: a.Size, MIMEType: a.MIMEType}
		if a.Path == "" {
			sa.Data = a.Data
		}
		stored = append(stored, sa)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalAttachments(data string) ([]chat.Attachment, error) {
	var stored []storedAttachment
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, err
	}
	atts := make([]chat.Attachment, 0, len(stored))
	for _, sa := range stored {
		atts = append(atts, chat.Attachment{ID: sa.ID, Kind: sa.Kind, Name: sa.Name, Path: sa.Path, Data: sa.Data, Size: sa.Size, MIMEType: sa.MIMEType})
	}
	return atts, nil
}
