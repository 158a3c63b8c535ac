package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// InsertMessage persists a chat message and returns it with the id and
// timestamp assigned on insert.
func (s *Store) InsertMessage(ctx context.Context, msg types.NewMessage) (*types.Message, error) {
	if msg.ConversationID <= 0 || msg.SenderID <= 0 {
		return nil, fmt.Errorf("%w: conversation and sender are required", ErrInvalidArgument)
	}
	msgType := strings.TrimSpace(msg.Type)
	if msgType == "" {
		msgType = types.DefaultMessageType
	}

	now := s.now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.SenderID, msg.Content, msgType, types.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message ID: %w", err)
	}

	return &types.Message{
		ID:             id,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           msgType,
		CreatedAt:      now.UTC(),
	}, nil
}

// OtherParticipants returns every participant of a conversation except
// excludeUserID, ordered by user id.
func (s *Store) OtherParticipants(ctx context.Context, conversationID, excludeUserID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants
		 WHERE conversation_id = ? AND user_id != ?
		 ORDER BY user_id`,
		conversationID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return ids, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
		)`,
		conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query participant exists: %w", err)
	}
	return exists, nil
}

// ListMessages returns a conversation's history, oldest first, with the
// sender's display name when the user row exists.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, COALESCE(u.full_name, ''),
		        m.content, m.message_type, m.created_at
		 FROM messages m
		 LEFT JOIN users u ON m.sender_id = u.id
		 WHERE m.conversation_id = ?
		 ORDER BY m.id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.Message{}
	for rows.Next() {
		var m types.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName,
			&m.Content, &m.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.CreatedAt, err = types.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse message %d timestamp: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
