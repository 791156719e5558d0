// Package httpapi exposes the chat service over HTTP with gin and mounts the
// realtime websocket endpoint.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rohitpatil2845/BAATKANE/internal/chat"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"go.uber.org/zap"
)

// Verifier resolves a bearer token to a user ID.
type Verifier interface {
	Verify(token string) (string, error)
}

// Deps are the collaborators the routes call into.
type Deps struct {
	Chats    *chat.Service
	Verifier Verifier
	Realtime http.Handler // websocket endpoint
	Log      *zap.Logger
}

type handlers struct {
	chats *chat.Service
	log   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	log := logging.OrNop(d.Log).Named("http")
	h := &handlers{chats: d.Chats, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now()})
	})
	if d.Realtime != nil {
		r.GET("/ws", gin.WrapH(d.Realtime))
	}

	api := r.Group("/api", requireAuth(d.Verifier))

	chats := api.Group("/chats")
	chats.GET("", h.listChats)
	chats.GET("/search", h.searchGroups)
	chats.POST("", h.createChat)
	chats.GET("/:chatId", h.getChat)
	chats.GET("/:chatId/messages", h.history)
	chats.POST("/:chatId/join-request", h.requestJoin)
	chats.GET("/:chatId/join-requests", h.joinRequests)
	chats.PATCH("/:chatId/join-requests/:requestId", h.resolveJoinRequest)
	chats.POST("/:chatId/leave", h.leaveGroup)
	chats.DELETE("/:chatId/members/:memberId", h.removeMember)

	api.GET("/users/search", h.searchUsers)

	scheduled := api.Group("/scheduled-messages")
	scheduled.POST("", h.scheduleMessage)
	scheduled.GET("/chat/:chatId", h.listScheduled)
	scheduled.DELETE("/:id", h.deleteScheduled)

	return r
}

// accessLog logs one line per request.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
