package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Realtime event names exchanged over the socket.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
	EventDisplayTyping  = "display_typing"
	EventHideTyping     = "hide_typing"
	EventError          = "error"
	EventConnected      = "connected"
)

// Envelope is the wire frame for every socket event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data and wraps it with the event name.
func NewEnvelope(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// ID is a numeric identifier that clients may send either as a JSON number
// or as a quoted string.
type ID int64

// UnmarshalJSON accepts 42 and "42".
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*id = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", s)
	}
	*id = ID(n)
	return nil
}

// String returns the decimal form, which is also the room key.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// RoomID converts a conversation id into the registry room key.
func RoomID(conversationID int64) string {
	return strconv.FormatInt(conversationID, 10)
}

// SendMessagePayload is the data of a send_message event.
type SendMessagePayload struct {
	ConversationID ID     `json:"conversation_id" validate:"required"`
	SenderID       ID     `json:"sender_id" validate:"required"`
	SenderName     string `json:"sender_name,omitempty"`
	Content        string `json:"content" validate:"required"`
	Type           string `json:"type,omitempty" validate:"omitempty,max=32"`
}

// ReceiveMessagePayload is the data of a receive_message event. It carries
// the send_message fields plus what persistence assigned.
type ReceiveMessagePayload struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	CreatedAt      string `json:"created_at"`
}

// TypingPayload is the data of display_typing and hide_typing events.
type TypingPayload struct {
	Room   string `json:"room"`
	UserID int64  `json:"user_id,omitempty"`
}

// ErrorPayload is sent back to a single session when one of its events
// could not be handled.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// ConnectedPayload is the first event a session receives.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id,omitempty"`
}

// ParseRoom reads a room key from event data. Clients send the room as a
// bare string, a bare number, or an object with a "room" field.
func ParseRoom(data json.RawMessage) (string, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return "", fmt.Errorf("room is required")
	}

	if strings.HasPrefix(raw, "{") {
		var obj struct {
			Room json.RawMessage `json:"room"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("invalid room object: %w", err)
		}
		if len(obj.Room) == 0 || strings.HasPrefix(strings.TrimSpace(string(obj.Room)), "{") {
			return "", fmt.Errorf("room is required")
		}
		return ParseRoom(obj.Room)
	}

	var s string
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return "", fmt.Errorf("invalid room: %w", err)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return "", fmt.Errorf("invalid room: %w", err)
		}
		s = n.String()
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("room is required")
	}
	return s, nil
}
