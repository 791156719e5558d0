package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/auth"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from other origins; the bearer token is
	// the access check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP authenticates the request, upgrades it to a websocket and runs
// the session's read loop until the client goes away. Authentication
// happens before the upgrade, so a rejected client gets a plain 401.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	s := g.NewSession()

	if err := s.Authenticate(ctx, auth.TokenFromRequest(r)); err != nil {
		status := http.StatusUnauthorized
		if !apperr.Is(err, apperr.Authentication) {
			status = http.StatusInternalServerError
			g.log.Error("websocket auth", zap.Error(err))
		}
		http.Error(w, apperr.MessageOf(err), status)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Close(ctx)
		g.log.Warn("websocket upgrade", zap.String("user_id", s.UserID()), zap.Error(err))
		return
	}
	conn := newWSConn(s.UserID(), ws, g.sendBuffer)
	conn.start()

	if err := s.Activate(ctx, conn); err != nil {
		g.log.Error("activate session", zap.String("user_id", s.UserID()), zap.Error(err))
		conn.Close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	defer s.Close(ctx)

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseSessionReplaced) {
				g.log.Debug("websocket read", zap.String("user_id", s.UserID()), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.Handle(ctx, frame)
	}
}
