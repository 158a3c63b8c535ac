package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/developerYeasin/blood-donation-backend/internal/notify"
)

// raiseNotification lets other backend components raise a notification for
// likes, comments and blood requests. It waits for the fan-out to finish and
// reports the outcome counts.
func (a *api) raiseNotification(c *gin.Context) {
	if a.Dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
		return
	}

	var req notify.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := a.Dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, notify.ErrPersistence) {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "notification could not be saved"})
			return
		}
		a.fail(c, "dispatch", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notification_id": res.NotificationID,
		"sent":            res.Count(notify.StatusSent),
		"failed":          res.Count(notify.StatusFailed),
		"skipped":         res.Count(notify.StatusSkipped),
	})
}

type upsertUserRequest struct {
	FullName  string `json:"full_name" validate:"max=255"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,max=1024"`
}

// upsertUser mirrors a profile from the main backend so messages and chat
// headers can show names and avatars.
func (a *api) upsertUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.Store.UpsertUser(c.Request.Context(), id, req.FullName, req.AvatarURL); err != nil {
		a.fail(c, "upsert user", err)
		return
	}
	c.Status(http.StatusNoContent)
}
