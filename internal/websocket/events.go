package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/developerYeasin/blood-donation-backend/internal/realtime"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// ErrSenderMismatch is returned when an authenticated session tries to send
// as another user.
var ErrSenderMismatch = errors.New("sender_id does not match the authenticated user")

// ErrAuthRequired is returned when an anonymous session sends a message
// while token verification is configured.
var ErrAuthRequired = errors.New("authentication required to send messages")

// RegisterChatHandlers wires the chat events to the room registry and relay.
func RegisterChatHandlers(r *Router, rooms *realtime.Registry, relay *realtime.Relay) {
	r.Handle(types.EventJoinRoom, func(_ context.Context, c *Connection, data json.RawMessage) error {
		room, err := types.ParseRoom(data)
		if err != nil {
			return err
		}
		rooms.Join(c, room)
		return nil
	})

	r.Handle(types.EventLeaveRoom, func(_ context.Context, c *Connection, data json.RawMessage) error {
		room, err := types.ParseRoom(data)
		if err != nil {
			return err
		}
		rooms.Leave(c.ID(), room)
		return nil
	})

	r.Handle(types.EventSendMessage, func(ctx context.Context, c *Connection, data json.RawMessage) error {
		var p types.SendMessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("invalid send_message payload: %w", err)
		}
		// Anonymous senders are trusted only when no verifier is configured.
		switch uid := c.UserID(); {
		case uid == 0 && c.server.authEnabled():
			return ErrAuthRequired
		case uid == 0:
		case p.SenderID == 0:
			p.SenderID = types.ID(uid)
		case int64(p.SenderID) != uid:
			return ErrSenderMismatch
		}

		if _, err := relay.SendMessage(ctx, p); err != nil {
			if errors.Is(err, realtime.ErrPersistence) {
				return errors.New("message could not be saved")
			}
			return err
		}
		return nil
	})

	r.Handle(types.EventTyping, func(ctx context.Context, c *Connection, data json.RawMessage) error {
		room, err := types.ParseRoom(data)
		if err != nil {
			return err
		}
		_, err = relay.NotifyTyping(ctx, room, c.ID(), c.UserID())
		return err
	})

	r.Handle(types.EventStopTyping, func(ctx context.Context, c *Connection, data json.RawMessage) error {
		room, err := types.ParseRoom(data)
		if err != nil {
			return err
		}
		_, err = relay.NotifyStopTyping(ctx, room, c.ID(), c.UserID())
		return err
	})
}
