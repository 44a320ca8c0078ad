package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/ashureev/auryn-chat/internal/live"
	"github.com/ashureev/auryn-chat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	hub *live.Hub
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a send is writing.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, hub: live.NewHub()}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// Messages carry no foreign key: a message stays valid even if its
// conversation row is missing. seq records insertion order for ties.
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_from_user INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		voice_enabled INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := withRetry(ctx, op, shared.IsSQLiteConflictError, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
	return result, err
}

const messageColumns = `id, conversation_id, content, is_from_user, timestamp, voice_enabled`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var ts int64
	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.Content,
		&msg.IsFromUser, &ts, &msg.VoiceEnabled,
	); err != nil {
		return nil, err
	}
	msg.Timestamp = time.UnixMilli(ts)
	return &msg, nil
}

// InsertMessage stores a message, replacing any message with the same id.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	var previousConversation string
	err := s.db.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = ?`, msg.ID).Scan(&previousConversation)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup message: %w", err)
	}

	query := `
	INSERT INTO messages (` + messageColumns + `)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		conversation_id = excluded.conversation_id,
		content = excluded.content,
		is_from_user = excluded.is_from_user,
		timestamp = excluded.timestamp,
		voice_enabled = excluded.voice_enabled`

	if _, err := s.exec(ctx, "insert message", query,
		msg.ID, msg.ConversationID, msg.Content,
		msg.IsFromUser, msg.Timestamp.UnixMilli(), msg.VoiceEnabled,
	); err != nil {
		return err
	}

	topics := []string{live.MessagesTopic(msg.ConversationID)}
	if previousConversation != "" && previousConversation != msg.ConversationID {
		topics = append(topics, live.MessagesTopic(previousConversation))
	}
	s.hub.Publish(topics...)
	return nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a single message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID string) error {
	var conversationID string
	err := s.db.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = ?`, messageID).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}

	if _, err := s.exec(ctx, "delete message", `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return err
	}

	s.hub.Publish(live.MessagesTopic(conversationID))
	return nil
}

// DeleteMessagesForConversation removes every message of a conversation.
func (s *SQLiteStore) DeleteMessagesForConversation(ctx context.Context, conversationID string) error {
	result, err := s.exec(ctx, "delete conversation messages",
		`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return err
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Debug("Deleted conversation messages", "conversation_id", conversationID, "count", rows)
	}
	s.hub.Publish(live.MessagesTopic(conversationID))
	return nil
}

// CountMessages returns the number of stored messages of a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns the messages of a conversation in display order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	messages := []*domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// ObserveMessages streams the ordered message list of a conversation.
func (s *SQLiteStore) ObserveMessages(ctx context.Context, conversationID string) <-chan []*domain.Message {
	return live.Watch(ctx, s.hub, live.MessagesTopic(conversationID), func(ctx context.Context) ([]*domain.Message, error) {
		return s.ListMessages(ctx, conversationID)
	})
}

const conversationColumns = `id, title, created_at, updated_at, message_count`

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt, &conv.MessageCount); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.UnixMilli(createdAt)
	conv.UpdatedAt = time.UnixMilli(updatedAt)
	return &conv, nil
}

// InsertConversation creates or replaces a conversation.
func (s *SQLiteStore) InsertConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
	INSERT INTO conversations (` + conversationColumns + `)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		message_count = excluded.message_count`

	if _, err := s.exec(ctx, "upsert conversation", query,
		conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(), conv.MessageCount,
	); err != nil {
		return err
	}

	s.hub.Publish(live.ConversationsTopic)
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// UpdateConversation overwrites the mutable fields of an existing conversation.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `UPDATE conversations SET title = ?, updated_at = ?, message_count = ? WHERE id = ?`
	result, err := s.exec(ctx, "update conversation", query,
		conv.Title, conv.UpdatedAt.UnixMilli(), conv.MessageCount, conv.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateConversation affected 0 rows", "conversation_id", conv.ID)
		return fmt.Errorf("update conversation %s: %w", conv.ID, domain.ErrNotFound)
	}

	s.hub.Publish(live.ConversationsTopic)
	return nil
}

// DeleteConversation removes a conversation and its messages in one transaction.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	err := withRetry(ctx, "delete conversation", shared.IsSQLiteConflictError, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete conversation: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
			return fmt.Errorf("delete conversation messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit delete conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.hub.Publish(live.ConversationsTopic, live.MessagesTopic(conversationID))
	return nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	conversations := []*domain.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

// ObserveConversations streams the conversation list.
func (s *SQLiteStore) ObserveConversations(ctx context.Context) <-chan []*domain.Conversation {
	return live.Watch(ctx, s.hub, live.ConversationsTopic, s.ListConversations)
}

var _ Repository = (*SQLiteStore)(nil)
