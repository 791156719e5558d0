package realtime

import (
	"context"
	"fmt"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
)

// Session is the server side of one client connection.
type Session struct {
	gw     *Gateway
	state  *machine
	log    *zap.Logger
	userID string
	conn   Conn
}

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state.Current() }

// UserID returns the authenticated user, empty before authentication.
func (s *Session) UserID() string { return s.userID }

// Authenticate verifies the handshake token and resolves the user. On
// failure the session is Closed and no realtime state has been touched.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	if _, err := s.state.Transition(Authenticating); err != nil {
		return err
	}
	userID, err := s.gw.verifier.Verify(token)
	if err == nil {
		_, err = s.gw.store.GetUser(ctx, userID)
		if apperr.Is(err, apperr.NotFound) {
			err = apperr.Unauthenticated("User not found")
		}
	}
	if err != nil {
		_, _ = s.state.Transition(Closed)
		return err
	}
	s.userID = userID
	s.log = s.log.With(zap.String("user_id", userID))
	return nil
}

// Activate binds conn to the authenticated user: it registers the
// connection (closing any connection it displaces), joins a room per chat
// membership, marks the user online and announces it to everyone else.
// Registration and the presence write happen under the user's session
// lock, so a displaced session closing concurrently cannot mark the user
// offline after this one went online.
func (s *Session) Activate(ctx context.Context, conn Conn) error {
	if s.State() != Authenticating {
		return fmt.Errorf("activate from %s", s.State())
	}
	g := s.gw

	chatIDs, err := g.store.ChatIDsForUser(ctx, s.userID)
	if err != nil {
		_, _ = s.state.Transition(Closed)
		return fmt.Errorf("activate session: %w", err)
	}

	s.conn = conn
	s.log = s.log.With(zap.String("conn_id", conn.ID()))
	g.hub.WithUser(s.userID, func() {
		if prev := g.hub.Registry.Register(s.userID, conn); prev != nil {
			s.log.Info("session replaced", zap.String("previous_conn_id", prev.ID()))
			prev.Close(CloseSessionReplaced, "session replaced")
		}
		for _, id := range chatIDs {
			g.hub.Rooms.Join(id, conn)
		}
		if err = g.store.SetPresence(ctx, s.userID, store.PresenceOnline, g.now()); err != nil {
			g.hub.Rooms.LeaveAll(conn)
			g.hub.Registry.Unregister(s.userID, conn)
			_, _ = s.state.Transition(Closed)
			err = fmt.Errorf("activate session: %w", err)
			return
		}
		if _, err = s.state.Transition(Active); err != nil {
			return
		}
		g.out.ToAll(Outbound{Name: EvtUserOnline, Data: map[string]any{"userId": s.userID}}, s.userID)
	})
	if err != nil {
		return err
	}

	g.bus.Emit(bus.KindSessionOpened, map[string]string{"userId": s.userID, "connId": conn.ID()})
	s.log.Info("session active", zap.Int("rooms", len(chatIDs)))
	return nil
}

// Close tears the session down. Only the connection that still owns the
// user's registry entry clears typing, marks the user offline and
// announces it; a displaced connection just leaves its rooms.
func (s *Session) Close(ctx context.Context) {
	from, err := s.state.Transition(Closed)
	if err != nil || from != Active {
		return
	}
	g := s.gw

	g.hub.Rooms.LeaveAll(s.conn)
	s.conn.Close(CloseNormal, "")

	var owned bool
	g.hub.WithUser(s.userID, func() {
		if owned = g.hub.Registry.Unregister(s.userID, s.conn); !owned {
			return
		}
		for _, chatID := range g.hub.Typing.ClearUser(s.userID) {
			g.out.ToChat(chatID, typingEvent(chatID, s.userID, false), "")
		}
		lastSeen := g.now()
		if err := g.store.SetPresence(ctx, s.userID, store.PresenceOffline, lastSeen); err != nil {
			s.log.Warn("mark offline", zap.Error(err))
		}
		g.out.ToAll(Outbound{Name: EvtUserOffline, Data: map[string]any{
			"userId":   s.userID,
			"lastSeen": lastSeen,
		}}, s.userID)
	})
	g.bus.Emit(bus.KindSessionClosed, map[string]any{"userId": s.userID, "connId": s.conn.ID(), "owned": owned})
	if owned {
		s.log.Info("session closed")
	}
}

// Handle processes one inbound frame. Rejected events are answered with an
// error event to this connection only; the session stays Active.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	if s.State() != Active {
		return
	}
	evt, err := DecodeInbound(frame)
	if err == nil {
		err = s.dispatch(ctx, evt)
	}
	if err != nil {
		name := ""
		if evt != nil {
			name = evt.Name()
		}
		s.reject(name, err)
	}
}

func (s *Session) dispatch(ctx context.Context, evt Inbound) error {
	switch e := evt.(type) {
	case *JoinChat:
		return s.joinChat(ctx, e)
	case *SendMessage:
		return s.sendMessage(ctx, e)
	case *TypingSignal:
		return s.typing(e)
	case *MessageDelivered:
		return s.messageDelivered(ctx, e)
	case *MarkRead:
		return s.markRead(ctx, e)
	case *UpdatePresence:
		return s.updatePresence(ctx, e)
	case *CallSignal:
		return s.relayCall(e)
	}
	return apperr.Invalid(fmt.Sprintf("unhandled event %q", evt.Name()))
}

func (s *Session) reject(event string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		s.log.Error("inbound event failed", zap.String("event", event), zap.Error(err))
	} else {
		s.log.Warn("inbound event rejected", zap.String("event", event), zap.String("kind", string(kind)), zap.Error(err))
	}
	payload, encErr := encode(Outbound{Name: EvtError, Data: ErrorPayload{
		Code:    string(kind),
		Message: apperr.MessageOf(err),
		Event:   event,
	}})
	if encErr != nil {
		return
	}
	_ = s.conn.Send(payload)
}

func (s *Session) requireMember(ctx context.Context, chatID string) error {
	ok, err := s.gw.store.IsMember(ctx, chatID, s.userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("Access denied")
	}
	return nil
}

func (s *Session) joinChat(ctx context.Context, e *JoinChat) error {
	if err := s.requireMember(ctx, e.ChatID); err != nil {
		return err
	}
	s.gw.hub.Rooms.Join(e.ChatID, s.conn)
	return nil
}

func (s *Session) sendMessage(ctx context.Context, e *SendMessage) error {
	if err := s.requireMember(ctx, e.ChatID); err != nil {
		return err
	}
	g := s.gw

	var view *store.MessageView
	var err error
	g.hub.WithChat(e.ChatID, func() {
		view, err = g.store.AppendMessage(ctx, &store.Message{
			ChatID:   e.ChatID,
			UserID:   s.userID,
			Content:  e.Content,
			Type:     e.Type,
			FileURL:  e.FileURL,
			FileName: e.FileName,
			ReplyTo:  e.ReplyTo,
		})
		if err == nil {
			g.out.ToChat(e.ChatID, NewMessage(*view), "")
		}
	})
	if err != nil {
		return err
	}

	if g.hook != nil {
		g.hook.MessagePosted(*view)
	}
	return nil
}

func (s *Session) typing(e *TypingSignal) error {
	g := s.gw
	if !g.hub.Rooms.In(e.ChatID, s.conn) {
		return apperr.Forbidden("Access denied")
	}
	g.hub.Typing.Set(e.ChatID, s.userID, e.IsTyping, g.now())
	g.out.ToChat(e.ChatID, typingEvent(e.ChatID, s.userID, e.IsTyping), s.conn.ID())
	return nil
}

// messageIn loads a message and checks it belongs to chatID and that the
// session user is a member.
func (s *Session) messageIn(ctx context.Context, messageID, chatID string) error {
	msg, err := s.gw.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ChatID != chatID {
		return apperr.Invalid("message does not belong to this chat")
	}
	return s.requireMember(ctx, chatID)
}

func (s *Session) messageDelivered(ctx context.Context, e *MessageDelivered) error {
	if err := s.messageIn(ctx, e.MessageID, e.ChatID); err != nil {
		return err
	}
	s.gw.out.ToChat(e.ChatID, Outbound{Name: EvtMessageDelivered, Data: map[string]any{
		"messageId": e.MessageID,
		"chatId":    e.ChatID,
		"userId":    s.userID,
	}}, s.conn.ID())
	return nil
}

func (s *Session) markRead(ctx context.Context, e *MarkRead) error {
	if err := s.messageIn(ctx, e.MessageID, e.ChatID); err != nil {
		return err
	}
	at := s.gw.now()
	if err := s.gw.store.UpsertRead(ctx, e.MessageID, s.userID, at); err != nil {
		return err
	}
	s.gw.out.ToChat(e.ChatID, Outbound{Name: EvtMessageRead, Data: map[string]any{
		"messageId": e.MessageID,
		"chatId":    e.ChatID,
		"userId":    s.userID,
		"readAt":    at,
	}}, "")
	return nil
}

func (s *Session) updatePresence(ctx context.Context, e *UpdatePresence) error {
	at := s.gw.now()
	if err := s.gw.store.SetPresence(ctx, s.userID, e.Status, at); err != nil {
		return err
	}
	s.gw.out.ToAll(Outbound{Name: EvtPresenceChanged, Data: map[string]any{
		"userId":   s.userID,
		"status":   e.Status,
		"lastSeen": at,
	}}, s.userID)
	return nil
}

// relayCall forwards WebRTC signalling to the target's live connection.
// An offline target is silently skipped.
func (s *Session) relayCall(e *CallSignal) error {
	if e.TargetUserID == s.userID {
		return apperr.Invalid("cannot call yourself")
	}
	var out Outbound
	switch e.Kind {
	case InCallUser:
		out = Outbound{Name: EvtIncomingCall, Data: map[string]any{
			"callerId": s.userID,
			"offer":    e.Offer,
			"callType": e.CallType,
		}}
	case InCallAnswer:
		out = Outbound{Name: EvtCallAnswered, Data: map[string]any{
			"answer": e.Answer,
			"userId": s.userID,
		}}
	case InIceCandidate:
		out = Outbound{Name: EvtIceCandidate, Data: map[string]any{
			"candidate": e.Candidate,
			"userId":    s.userID,
		}}
	case InEndCall:
		out = Outbound{Name: EvtCallEnded, Data: map[string]any{"userId": s.userID}}
	default:
		return apperr.Invalid(fmt.Sprintf("unknown call signal %q", e.Kind))
	}
	s.gw.out.ToUser(e.TargetUserID, out)
	return nil
}
