package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rohitpatil2845/BAATKANE/internal/chat"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

type scheduleRequest struct {
	ChatID            string    `json:"chatId" binding:"required"`
	Content           string    `json:"content" binding:"required"`
	ScheduledTime     time.Time `json:"scheduledTime" binding:"required"`
	IsRecurring       bool      `json:"isRecurring"`
	RecurrencePattern string    `json:"recurrencePattern" binding:"omitempty,oneof=daily weekly monthly"`
}

type scheduledPayload struct {
	ID                string    `json:"id"`
	ChatID            string    `json:"chatId"`
	Content           string    `json:"content"`
	ScheduledTime     time.Time `json:"scheduledTime"`
	IsRecurring       bool      `json:"isRecurring"`
	RecurrencePattern string    `json:"recurrencePattern,omitempty"`
}

func newScheduledPayload(s store.ScheduledMessage) scheduledPayload {
	return scheduledPayload{
		ID:                s.ID,
		ChatID:            s.ChatID,
		Content:           s.Content,
		ScheduledTime:     s.ScheduledTime,
		IsRecurring:       s.IsRecurring,
		RecurrencePattern: string(s.Pattern),
	}
}

func (h *handlers) scheduleMessage(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sm, err := h.chats.ScheduleMessage(c.Request.Context(), currentUser(c), chat.ScheduleInput{
		ChatID:        req.ChatID,
		Content:       req.Content,
		ScheduledTime: req.ScheduledTime,
		IsRecurring:   req.IsRecurring,
		Pattern:       store.Recurrence(req.RecurrencePattern),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Message scheduled successfully", "id": sm.ID})
}

func (h *handlers) listScheduled(c *gin.Context) {
	rows, err := h.chats.ListScheduled(c.Request.Context(), currentUser(c), c.Param("chatId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]scheduledPayload, 0, len(rows))
	for _, s := range rows {
		out = append(out, newScheduledPayload(s))
	}
	c.JSON(http.StatusOK, gin.H{"scheduledMessages": out})
}

func (h *handlers) deleteScheduled(c *gin.Context) {
	if err := h.chats.DeleteScheduled(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Scheduled message deleted"})
}
