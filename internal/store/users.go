package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertUser records the display profile used for sender names and chat
// headers. Accounts themselves live in the main backend.
func (s *Store) UpsertUser(ctx context.Context, id int64, fullName, avatarURL string) error {
	if id <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET full_name = ?, avatar_url = ? WHERE id = ?",
		fullName, avatarURL, id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		s.db.Dialect().InsertIgnore()+" INTO users (id, full_name, avatar_url, created_at) VALUES (?, ?, ?, ?)",
		id, fullName, avatarURL, s.timestamp())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserName returns a user's display name, or "" when unknown.
func (s *Store) UserName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT full_name FROM users WHERE id = ?", id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	return name, nil
}
