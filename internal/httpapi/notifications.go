package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/store"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// historyLimit is how many notifications the bell shows.
const historyLimit = 20

type subscribeRequest struct {
	Subscription json.RawMessage `json:"subscription"`
	DeviceType   string          `json:"device_type"`
}

// subscribe stores a device. The subscription is kept JSON encoded exactly
// as the client sent it, so a mobile token arrives as a quoted string.
func (a *api) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	class, err := types.ParseDeviceClass(req.DeviceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw := bytes.TrimSpace(req.Subscription)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription is required"})
		return
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription must be valid JSON"})
		return
	}

	dev, err := a.Store.RegisterDevice(c.Request.Context(), currentUser(c), class, compact.String())
	if err != nil {
		a.fail(c, "register device", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Device subscribed", "device_id": dev.ID})
}

func (a *api) listNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := currentUser(c)

	list, err := a.Store.ListNotifications(ctx, uid, historyLimit)
	if err != nil {
		a.fail(c, "list notifications", err)
		return
	}
	unread, err := a.Store.UnreadCount(ctx, uid)
	if err != nil {
		a.fail(c, "count unread", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread_count": unread})
}

func (a *api) markAllRead(c *gin.Context) {
	n, err := a.Store.MarkAllRead(c.Request.Context(), currentUser(c))
	if err != nil {
		a.fail(c, "mark all read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": n})
}

func (a *api) markRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	if err := a.Store.MarkRead(c.Request.Context(), currentUser(c), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		a.fail(c, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// fail maps store errors to a response. Invalid arguments are the caller's
// fault; anything else is logged and reported as 500.
func (a *api) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, store.ErrInvalidArgument) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_ = c.Error(err)
	a.Log.Error(op+" failed",
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
