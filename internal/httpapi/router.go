// Package httpapi serves the REST endpoints for chat history, conversation
// management and the notification bell, plus the internal notify hook used
// by other backend components.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/notify"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// Store is the persistence the API reads and writes.
type Store interface {
	RegisterDevice(ctx context.Context, userID int64, class types.DeviceClass, subscription string) (*types.Device, error)
	ListNotifications(ctx context.Context, recipientID int64, limit int) ([]types.Notification, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	MarkRead(ctx context.Context, recipientID, notificationID int64) error

	ListConversations(ctx context.Context, userID int64, page, pageSize int) ([]types.ConversationSummary, bool, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ListMessages(ctx context.Context, conversationID int64) ([]types.Message, error)
	StartPrivateConversation(ctx context.Context, userID, targetID int64) (int64, bool, error)
	CreateGroup(ctx context.Context, creatorID int64, name, image string, members []int64) (*types.Conversation, error)
	UpsertUser(ctx context.Context, id int64, fullName, avatarURL string) error
}

// Dispatcher sends one notification synchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, req notify.Request) (*notify.Result, error)
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RoomCounter reports how many rooms have live members.
type RoomCounter interface {
	RoomCount() int
}

// Deps are the collaborators the router is built from. Socket, Rooms and DB
// are optional.
type Deps struct {
	Store         Store
	Dispatcher    Dispatcher
	Verifier      TokenVerifier
	Socket        http.Handler
	Rooms         RoomCounter
	Sessions      func() int
	DB            Pinger
	InternalToken string
	Log           *zap.Logger
}

type api struct {
	Deps
	validate *validator.Validate
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	a := &api{Deps: d, validate: validator.New()}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(d.Log))

	r.GET("/healthz", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.Socket != nil {
		r.GET("/socket", gin.WrapH(d.Socket))
	}

	user := r.Group("/api")
	user.Use(requireUser(d.Verifier))

	notifications := user.Group("/notifications")
	notifications.POST("/subscribe", a.subscribe)
	notifications.GET("", a.listNotifications)
	notifications.PUT("/read", a.markAllRead)
	notifications.PUT("/read/:id", a.markRead)

	chat := user.Group("/chat")
	chat.GET("/conversations", a.listConversations)
	chat.GET("/messages/:conversationId", a.listMessages)
	chat.POST("/start", a.startChat)
	chat.POST("/groups", a.createGroup)

	internal := r.Group("/internal")
	internal.Use(requireInternalToken(d.InternalToken))
	internal.POST("/notify", a.raiseNotification)
	internal.PUT("/users/:id", a.upsertUser)

	return r
}

func (a *api) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	if a.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}
	if a.Rooms != nil {
		body["rooms"] = a.Rooms.RoomCount()
	}
	if a.Sessions != nil {
		body["sessions"] = a.Sessions()
	}
	c.JSON(status, body)
}
