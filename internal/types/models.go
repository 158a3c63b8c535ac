package types

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every stored timestamp.
// Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp, tolerating RFC 3339 values written
// by other tools.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Conversation types.
const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

// DefaultMessageType is used when a sender omits the type.
const DefaultMessageType = "text"

// Conversation is a private or group chat.
type Conversation struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	GroupName  string `json:"group_name,omitempty"`
	GroupImage string `json:"group_image,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID  int64  `json:"conversation_id"`
	Type            string `json:"type"`
	ChatName        string `json:"chat_name"`
	ChatImage       string `json:"chat_image"`
	LastMessage     string `json:"last_message"`
	LastMessageTime string `json:"last_message_time"`
}

// NewMessage is what the relay hands to persistence.
type NewMessage struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Type           string
}

// Message is a persisted chat message.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	Type           string    `json:"message_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeviceClass is the push channel family a device registered for.
type DeviceClass string

const (
	DeviceWeb     DeviceClass = "web"
	DeviceAndroid DeviceClass = "android"
	DeviceIOS     DeviceClass = "ios"
)

// ParseDeviceClass normalizes a client supplied device type. An empty value
// means web, matching how browsers subscribe.
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch DeviceClass(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeviceWeb:
		return DeviceWeb, nil
	case DeviceAndroid:
		return DeviceAndroid, nil
	case DeviceIOS:
		return DeviceIOS, nil
	default:
		return "", fmt.Errorf("unknown device type %q", s)
	}
}

// IsMobile reports whether the class is served by the mobile push gateway.
func (c DeviceClass) IsMobile() bool {
	return c == DeviceAndroid || c == DeviceIOS
}

// Device is a stored push endpoint for a user. Subscription is opaque: a
// web-push subscription object for web devices, a push token for mobile.
type Device struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"user_id"`
	Class        DeviceClass `json:"device_type"`
	Subscription string      `json:"subscription"`
	CreatedAt    string      `json:"created_at"`
}

// Notification types used by the backend.
const (
	NotificationMessage      = "message"
	NotificationLike         = "like"
	NotificationComment      = "comment"
	NotificationBloodRequest = "blood_request"
)

// Notification is one history row shown in the notification bell.
type Notification struct {
	ID          int64  `json:"id"`
	RecipientID int64  `json:"recipient_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Type        string `json:"type"`
	ReferenceID int64  `json:"reference_id"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   string `json:"created_at"`
}
