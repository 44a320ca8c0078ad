package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/ashureev/auryn-chat/internal/live"
	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	conv/{conversation_id}                           -> conversationRecord
//	msg/{conversation_id}\x00{ts:019d}{seq:020d}     -> messageRecord
//	msgid/{message_id}                               -> msg/... key
//
// The zero-padded millisecond timestamp keeps a prefix scan in display order;
// the sequence number breaks ties in insertion order. The NUL separator stops
// one conversation id from being a prefix of another.
const (
	conversationPrefix = "conv/"
	messagePrefix      = "msg/"
	messageIDPrefix    = "msgid/"
	sequenceKey        = "seq/messages"
	sequenceBandwidth  = 1000
)

type messageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	IsFromUser     bool   `json:"is_from_user"`
	Timestamp      int64  `json:"ts"`
	VoiceEnabled   bool   `json:"voice_enabled"`
}

type conversationRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// BadgerStore implements Repository on an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	hub *live.Hub
}

// NewBadger opens (or creates) a Badger-backed repository in dir.
func NewBadger(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lease message sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, hub: live.NewHub()}, nil
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release message sequence: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

func isBadgerConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

func (s *BadgerStore) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	return withRetry(ctx, op, isBadgerConflict, func() error {
		if err := s.db.Update(fn); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

func conversationKey(id string) []byte {
	return []byte(conversationPrefix + id)
}

func messageConversationPrefix(conversationID string) []byte {
	return []byte(messagePrefix + conversationID + "\x00")
}

func messageKey(conversationID string, ts int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%019d%020d", messagePrefix, conversationID, ts, seq))
}

// messageKeySeq extracts the sequence suffix of a message key.
func messageKeySeq(key []byte) (uint64, bool) {
	if len(key) < 20 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(key[len(key)-20:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func messageIDKey(id string) []byte {
	return []byte(messageIDPrefix + id)
}

func toMessageRecord(msg *domain.Message) messageRecord {
	return messageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		IsFromUser:     msg.IsFromUser,
		Timestamp:      msg.Timestamp.UnixMilli(),
		VoiceEnabled:   msg.VoiceEnabled,
	}
}

func (r messageRecord) toDomain() *domain.Message {
	return &domain.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Content:        r.Content,
		IsFromUser:     r.IsFromUser,
		Timestamp:      time.UnixMilli(r.Timestamp),
		VoiceEnabled:   r.VoiceEnabled,
	}
}

func toConversationRecord(conv *domain.Conversation) conversationRecord {
	return conversationRecord{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt.UnixMilli(),
		UpdatedAt:    conv.UpdatedAt.UnixMilli(),
		MessageCount: conv.MessageCount,
	}
}

func (r conversationRecord) toDomain() *domain.Conversation {
	return &domain.Conversation{
		ID:           r.ID,
		Title:        r.Title,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		UpdatedAt:    time.UnixMilli(r.UpdatedAt),
		MessageCount: r.MessageCount,
	}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return txn.Set(key, data)
}

// InsertMessage stores a message, replacing any message with the same id.
func (s *BadgerStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	idKey := messageIDKey(msg.ID)

	var replacedConversation string
	err := s.update(ctx, "insert message", func(txn *badger.Txn) error {
		replacedConversation = ""
		var n uint64
		reuse := false

		item, err := txn.Get(idKey)
		switch {
		case err == nil:
			oldKey, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var old messageRecord
			if err := getJSON(txn, oldKey, &old); err == nil {
				replacedConversation = old.ConversationID
			}
			// A replaced message keeps its place among timestamp-equal peers.
			n, reuse = messageKeySeq(oldKey)
			if err := txn.Delete(oldKey); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if !reuse {
			if n, err = s.seq.Next(); err != nil {
				return fmt.Errorf("next message sequence: %w", err)
			}
		}

		key := messageKey(msg.ConversationID, msg.Timestamp.UnixMilli(), n)
		if err := setJSON(txn, key, toMessageRecord(msg)); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
	if err != nil {
		return err
	}

	topics := []string{live.MessagesTopic(msg.ConversationID)}
	if replacedConversation != "" && replacedConversation != msg.ConversationID {
		topics = append(topics, live.MessagesTopic(replacedConversation))
	}
	s.hub.Publish(topics...)
	return nil
}

// GetMessage retrieves a message by id.
func (s *BadgerStore) GetMessage(_ context.Context, messageID string) (*domain.Message, error) {
	var rec messageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIDKey(messageID))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, key, &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return rec.toDomain(), nil
}

// DeleteMessage removes a single message.
func (s *BadgerStore) DeleteMessage(ctx context.Context, messageID string) error {
	var conversationID string
	err := s.update(ctx, "delete message", func(txn *badger.Txn) error {
		idKey := messageIDKey(messageID)
		item, err := txn.Get(idKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var rec messageRecord
		if err := getJSON(txn, key, &rec); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		conversationID = rec.ConversationID
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey)
	})
	if err != nil {
		return err
	}

	if conversationID != "" {
		s.hub.Publish(live.MessagesTopic(conversationID))
	}
	return nil
}

// deleteMessagesTxn removes every message of a conversation inside txn.
func deleteMessagesTxn(txn *badger.Txn, conversationID string) (int, error) {
	prefix := messageConversationPrefix(conversationID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	var keys [][]byte
	var ids []string
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var rec messageRecord
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
			it.Close()
			return 0, err
		}
		keys = append(keys, item.KeyCopy(nil))
		ids = append(ids, rec.ID)
	}
	it.Close()

	for i, key := range keys {
		if err := txn.Delete(key); err != nil {
			return 0, err
		}
		if err := txn.Delete(messageIDKey(ids[i])); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// DeleteMessagesForConversation removes every message of a conversation.
func (s *BadgerStore) DeleteMessagesForConversation(ctx context.Context, conversationID string) error {
	err := s.update(ctx, "delete conversation messages", func(txn *badger.Txn) error {
		_, err := deleteMessagesTxn(txn, conversationID)
		return err
	})
	if err != nil {
		return err
	}

	s.hub.Publish(live.MessagesTopic(conversationID))
	return nil
}

// CountMessages returns the number of stored messages of a conversation.
func (s *BadgerStore) CountMessages(_ context.Context, conversationID string) (int, error) {
	prefix := messageConversationPrefix(conversationID)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns the messages of a conversation in display order.
func (s *BadgerStore) ListMessages(_ context.Context, conversationID string) ([]*domain.Message, error) {
	prefix := messageConversationPrefix(conversationID)
	messages := []*domain.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			messages = append(messages, rec.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// ObserveMessages streams the ordered message list of a conversation.
func (s *BadgerStore) ObserveMessages(ctx context.Context, conversationID string) <-chan []*domain.Message {
	return live.Watch(ctx, s.hub, live.MessagesTopic(conversationID), func(ctx context.Context) ([]*domain.Message, error) {
		return s.ListMessages(ctx, conversationID)
	})
}

// InsertConversation creates or replaces a conversation.
func (s *BadgerStore) InsertConversation(ctx context.Context, conv *domain.Conversation) error {
	err := s.update(ctx, "upsert conversation", func(txn *badger.Txn) error {
		return setJSON(txn, conversationKey(conv.ID), toConversationRecord(conv))
	})
	if err != nil {
		return err
	}

	s.hub.Publish(live.ConversationsTopic)
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *BadgerStore) GetConversation(_ context.Context, conversationID string) (*domain.Conversation, error) {
	var rec conversationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(conversationID), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return rec.toDomain(), nil
}

// UpdateConversation overwrites the mutable fields of an existing conversation.
func (s *BadgerStore) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	err := s.update(ctx, "update conversation", func(txn *badger.Txn) error {
		var existing conversationRecord
		if err := getJSON(txn, conversationKey(conv.ID), &existing); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		existing.Title = conv.Title
		existing.UpdatedAt = conv.UpdatedAt.UnixMilli()
		existing.MessageCount = conv.MessageCount
		return setJSON(txn, conversationKey(conv.ID), existing)
	})
	if err != nil {
		return err
	}

	s.hub.Publish(live.ConversationsTopic)
	return nil
}

// DeleteConversation removes a conversation and its messages in one transaction.
func (s *BadgerStore) DeleteConversation(ctx context.Context, conversationID string) error {
	err := s.update(ctx, "delete conversation", func(txn *badger.Txn) error {
		if _, err := deleteMessagesTxn(txn, conversationID); err != nil {
			return err
		}
		return txn.Delete(conversationKey(conversationID))
	})
	if err != nil {
		return err
	}

	s.hub.Publish(live.ConversationsTopic, live.MessagesTopic(conversationID))
	return nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *BadgerStore) ListConversations(_ context.Context) ([]*domain.Conversation, error) {
	prefix := []byte(conversationPrefix)
	var records []conversationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec conversationRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	slices.SortFunc(records, func(a, b conversationRecord) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})

	conversations := make([]*domain.Conversation, 0, len(records))
	for _, rec := range records {
		conversations = append(conversations, rec.toDomain())
	}
	return conversations, nil
}

// ObserveConversations streams the conversation list.
func (s *BadgerStore) ObserveConversations(ctx context.Context) <-chan []*domain.Conversation {
	return live.Watch(ctx, s.hub, live.ConversationsTopic, s.ListConversations)
}

var _ Repository = (*BadgerStore)(nil)
