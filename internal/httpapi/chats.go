package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rohitpatil2845/BAATKANE/internal/chat"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

type createChatRequest struct {
	IsGroup     bool     `json:"isGroup"`
	GroupName   string   `json:"groupName"`
	GroupIcon   string   `json:"groupIcon"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds" binding:"required,min=1"`
}

func (h *handlers) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, created, err := h.chats.CreateChat(c.Request.Context(), currentUser(c), chat.CreateInput{
		IsGroup:     req.IsGroup,
		Name:        req.GroupName,
		Icon:        req.GroupIcon,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"chat": p})
}

func (h *handlers) listChats(c *gin.Context) {
	chats, err := h.chats.ListChats(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *handlers) getChat(c *gin.Context) {
	p, err := h.chats.Chat(c.Request.Context(), currentUser(c), c.Param("chatId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": p})
}

func (h *handlers) history(c *gin.Context) {
	msgs, err := h.chats.History(c.Request.Context(), currentUser(c), c.Param("chatId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *handlers) searchGroups(c *gin.Context) {
	groups, err := h.chats.SearchGroups(c.Request.Context(), currentUser(c), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *handlers) searchUsers(c *gin.Context) {
	users, err := h.chats.SearchUsers(c.Request.Context(), currentUser(c), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *handlers) requestJoin(c *gin.Context) {
	req, err := h.chats.RequestJoin(c.Request.Context(), c.Param("chatId"), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Join request sent successfully", "requestId": req.ID})
}

type joinRequestPayload struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chatId"`
	Status    string        `json:"status"`
	CreatedAt int64         `json:"createdAt"`
	User      store.UserRef `json:"user"`
}

func (h *handlers) joinRequests(c *gin.Context) {
	reqs, err := h.chats.JoinRequests(c.Request.Context(), currentUser(c), c.Param("chatId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]joinRequestPayload, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, joinRequestPayload{
			ID:        r.ID,
			ChatID:    r.ChatID,
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt.UnixMilli(),
			User:      r.User,
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

type resolveRequest struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
}

func (h *handlers) resolveJoinRequest(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	approve := req.Action == "approve"
	if _, err := h.chats.ResolveJoinRequest(c.Request.Context(), currentUser(c), c.Param("chatId"), c.Param("requestId"), approve); err != nil {
		h.fail(c, err)
		return
	}
	msg := "Join request rejected"
	if approve {
		msg = "Join request approved"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *handlers) leaveGroup(c *gin.Context) {
	res, err := h.chats.LeaveGroup(c.Request.Context(), c.Param("chatId"), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Left group successfully",
		"newAdminId": res.NewAdminID,
		"deleted":    res.Deleted,
	})
}

func (h *handlers) removeMember(c *gin.Context) {
	if err := h.chats.RemoveMember(c.Request.Context(), currentUser(c), c.Param("chatId"), c.Param("memberId")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed successfully"})
}
