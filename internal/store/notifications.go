package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// InsertNotification writes one history row and returns its id. A zero
// ReferenceID is stored as NULL.
func (s *Store) InsertNotification(ctx context.Context, n types.Notification) (int64, error) {
	if n.RecipientID <= 0 {
		return 0, fmt.Errorf("%w: recipient is required", ErrInvalidArgument)
	}

	var ref sql.NullInt64
	if n.ReferenceID != 0 {
		ref = sql.NullInt64{Int64: n.ReferenceID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (recipient_id, title, body, type, reference_id, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, FALSE, ?)`,
		n.RecipientID, n.Title, n.Body, n.Type, ref, s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get notification ID: %w", err)
	}
	return id, nil
}

// ListNotifications returns a recipient's newest notifications first.
func (s *Store) ListNotifications(ctx context.Context, recipientID int64, limit int) ([]types.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, title, body, type, reference_id, is_read, created_at
		 FROM notifications
		 WHERE recipient_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := []types.Notification{}
	for rows.Next() {
		var n types.Notification
		var ref sql.NullInt64
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Type,
			&ref, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ReferenceID = ref.Int64
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return list, nil
}

// UnreadCount returns how many of a recipient's notifications are unread.
func (s *Store) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = FALSE",
		recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkAllRead marks every notification of a recipient as read and returns
// how many changed.
func (s *Store) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE recipient_id = ? AND is_read = FALSE",
		recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// MarkRead marks one notification as read. It returns ErrNotFound when the
// notification does not exist or belongs to another recipient.
func (s *Store) MarkRead(ctx context.Context, recipientID, notificationID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = ? AND recipient_id = ?)",
		notificationID, recipientID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query notification: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE id = ? AND recipient_id = ?",
		notificationID, recipientID); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
