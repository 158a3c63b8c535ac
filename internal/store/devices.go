package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// RegisterDevice stores a push endpoint for a user. A user may hold any
// number of devices of any class.
func (s *Store) RegisterDevice(ctx context.Context, userID int64, class types.DeviceClass, subscription string) (*types.Device, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	if subscription == "" {
		return nil, fmt.Errorf("%w: subscription is required", ErrInvalidArgument)
	}

	now := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_devices (user_id, device_type, web_push_subscription, created_at)
		 VALUES (?, ?, ?, ?)`,
		userID, string(class), subscription, now)
	if err != nil {
		return nil, fmt.Errorf("insert device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get device ID: %w", err)
	}

	return &types.Device{
		ID:           id,
		UserID:       userID,
		Class:        class,
		Subscription: subscription,
		CreatedAt:    now,
	}, nil
}

// DevicesForUser returns a user's devices in registration order. A NULL
// subscription is returned as the empty string.
func (s *Store) DevicesForUser(ctx context.Context, userID int64) ([]types.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, device_type, web_push_subscription, created_at
		 FROM user_devices
		 WHERE user_id = ?
		 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var devices []types.Device
	for rows.Next() {
		var d types.Device
		var class string
		var sub sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &class, &sub, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Class = types.DeviceClass(class)
		d.Subscription = sub.String
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}
