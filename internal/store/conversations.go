package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// StartPrivateConversation returns the private conversation between two
// users, creating it when none exists. isNew reports whether it was created.
func (s *Store) StartPrivateConversation(ctx context.Context, userID, targetID int64) (id int64, isNew bool, err error) {
	if userID <= 0 || targetID <= 0 {
		return 0, false, fmt.Errorf("%w: both users are required", ErrInvalidArgument)
	}
	if userID == targetID {
		return 0, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`SELECT c.id FROM conversations c
		 JOIN conversation_participants p1 ON p1.conversation_id = c.id
		 JOIN conversation_participants p2 ON p2.conversation_id = c.id
		 WHERE c.type = ? AND p1.user_id = ? AND p2.user_id = ?
		 ORDER BY c.id LIMIT 1`,
		types.ConversationPrivate, userID, targetID).Scan(&id)
	switch {
	case err == nil:
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("query private conversation: %w", err)
	}

	now := s.timestamp()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (type, created_at) VALUES (?, ?)",
		types.ConversationPrivate, now)
	if err != nil {
		return 0, false, fmt.Errorf("insert conversation: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, false, fmt.Errorf("get conversation ID: %w", err)
	}

	if err := s.addParticipantsTx(ctx, tx, id, now, userID, targetID); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit transaction: %w", err)
	}
	return id, true, nil
}

// CreateGroup creates a group conversation with the creator and members as
// participants. Duplicate member ids are collapsed.
func (s *Store) CreateGroup(ctx context.Context, creatorID int64, name, image string, members []int64) (*types.Conversation, error) {
	name = strings.TrimSpace(name)
	if creatorID <= 0 || name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (type, group_name, group_image, created_at) VALUES (?, ?, ?, ?)",
		types.ConversationGroup, name, image, now)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get group ID: %w", err)
	}

	ids := append([]int64{creatorID}, members...)
	if err := s.addParticipantsTx(ctx, tx, id, now, ids...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &types.Conversation{
		ID:         id,
		Type:       types.ConversationGroup,
		GroupName:  name,
		GroupImage: image,
		CreatedAt:  now,
	}, nil
}

// AddParticipants adds users to a conversation. Existing participants are
// left untouched.
func (s *Store) AddParticipants(ctx context.Context, conversationID int64, userIDs ...int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.addParticipantsTx(ctx, tx, conversationID, s.timestamp(), userIDs...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) addParticipantsTx(ctx context.Context, tx *sql.Tx, conversationID int64, joinedAt string, userIDs ...int64) error {
	q := s.db.Dialect().InsertIgnore() +
		" INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)"
	for _, uid := range userIDs {
		if uid <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, q, conversationID, uid, joinedAt); err != nil {
			return fmt.Errorf("insert participant %d: %w", uid, err)
		}
	}
	return nil
}

// GetConversation returns a conversation by id, or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id int64) (*types.Conversation, error) {
	var c types.Conversation
	var name, image sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, type, group_name, group_image, created_at FROM conversations WHERE id = ?",
		id).Scan(&c.ID, &c.Type, &name, &image, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	c.GroupName = name.String
	c.GroupImage = image.String
	return &c, nil
}

// ListConversations returns one page of a user's conversations, most
// recently active first. hasMore reports whether another page exists.
func (s *Store) ListConversations(ctx context.Context, userID int64, page, pageSize int) ([]types.ConversationSummary, bool, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	// Fetch one extra row to learn whether another page exists.
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.type,
		        CASE WHEN c.type = 'group' THEN COALESCE(c.group_name, '')
		             ELSE COALESCE((SELECT u.full_name FROM conversation_participants op
		                            JOIN users u ON u.id = op.user_id
		                            WHERE op.conversation_id = c.id AND op.user_id != ?
		                            ORDER BY op.user_id LIMIT 1), '')
		        END,
		        CASE WHEN c.type = 'group' THEN COALESCE(c.group_image, '')
		             ELSE COALESCE((SELECT u.avatar_url FROM conversation_participants op
		                            JOIN users u ON u.id = op.user_id
		                            WHERE op.conversation_id = c.id AND op.user_id != ?
		                            ORDER BY op.user_id LIMIT 1), '')
		        END,
		        COALESCE(m.content, ''), COALESCE(m.created_at, '')
		 FROM conversation_participants p
		 JOIN conversations c ON c.id = p.conversation_id
		 LEFT JOIN messages m ON m.id = (
		     SELECT MAX(lm.id) FROM messages lm WHERE lm.conversation_id = c.id
		 )
		 WHERE p.user_id = ?
		 ORDER BY COALESCE(m.id, 0) DESC, c.id DESC
		 LIMIT ? OFFSET ?`,
		userID, userID, userID, pageSize+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []types.ConversationSummary{}
	for rows.Next() {
		var c types.ConversationSummary
		if err := rows.Scan(&c.ConversationID, &c.Type, &c.ChatName, &c.ChatImage,
			&c.LastMessage, &c.LastMessageTime); err != nil {
			return nil, false, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate conversations: %w", err)
	}

	hasMore := len(list) > pageSize
	if hasMore {
		list = list[:pageSize]
	}
	return list, hasMore, nil
}
