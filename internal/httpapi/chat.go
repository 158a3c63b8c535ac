package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (a *api) listConversations(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := min(queryInt(c, "pageSize", defaultPageSize), maxPageSize)

	chats, hasMore, err := a.Store.ListConversations(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		a.fail(c, "list conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chats":    chats,
		"hasMore":  hasMore,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (a *api) listMessages(c *gin.Context) {
	convID, err := strconv.ParseInt(c.Param("conversationId"), 10, 64)
	if err != nil || convID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx := c.Request.Context()
	ok, err := a.Store.IsParticipant(ctx, convID, currentUser(c))
	if err != nil {
		a.fail(c, "check participant", err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return
	}

	messages, err := a.Store.ListMessages(ctx, convID)
	if err != nil {
		a.fail(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type startChatRequest struct {
	TargetUserID types.ID `json:"target_user_id"`
}

func (a *api) startChat(c *gin.Context) {
	var req startChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, isNew, err := a.Store.StartPrivateConversation(c.Request.Context(), currentUser(c), int64(req.TargetUserID))
	if err != nil {
		a.fail(c, "start chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "isNew": isNew})
}

type createGroupRequest struct {
	Name      string     `json:"name" validate:"required,max=255"`
	Image     string     `json:"image" validate:"omitempty,max=1024"`
	MemberIDs []types.ID `json:"member_ids"`
}

func (a *api) createGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	members := lo.Uniq(lo.Map(req.MemberIDs, func(id types.ID, _ int) int64 { return int64(id) }))
	conv, err := a.Store.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.Image, members)
	if err != nil {
		a.fail(c, "create group", err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// queryInt reads a positive integer query parameter, falling back to def
// when it is absent or unusable.
func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}
