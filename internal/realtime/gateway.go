package realtime

import (
	"context"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
)

// Store is the slice of the durable store that sessions need.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	SetPresence(ctx context.Context, userID string, p store.Presence, lastSeen time.Time) error
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	AppendMessage(ctx context.Context, m *store.Message) (*store.MessageView, error)
	GetMessage(ctx context.Context, id string) (*store.MessageView, error)
	UpsertRead(ctx context.Context, messageID, userID string, at time.Time) error
}

// Verifier resolves a bearer token to a user ID.
type Verifier interface {
	Verify(token string) (string, error)
}

// MessageHook observes every message accepted from a client after it was
// broadcast. Implementations must return immediately.
type MessageHook interface {
	MessagePosted(msg store.MessageView)
}

// Options tunes a Gateway.
type Options struct {
	TypingTTL  time.Duration
	SendBuffer int
	Hook       MessageHook
	Now        func() time.Time
}

// Gateway creates sessions and owns the background typing sweeper.
type Gateway struct {
	store    Store
	hub      *Hub
	out      *Broadcaster
	verifier Verifier
	hook     MessageHook
	bus      *bus.Bus
	log      *zap.Logger
	now      func() time.Time
	ttl      time.Duration
	// sendBuffer is the per-connection outbound queue length.
	sendBuffer int

	cancel context.CancelFunc
}

// NewGateway wires a gateway. b may be nil.
func NewGateway(st Store, hub *Hub, out *Broadcaster, v Verifier, b *bus.Bus, log *zap.Logger, opts Options) *Gateway {
	g := &Gateway{
		store:    st,
		hub:      hub,
		out:      out,
		verifier: v,
		hook:     opts.Hook,
		bus:      b,
		log:      logging.OrNop(log),
		now:      opts.Now,
		ttl:      opts.TypingTTL,

		sendBuffer: opts.SendBuffer,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sendBuffer <= 0 {
		g.sendBuffer = 128
	}
	return g
}

// Hub returns the gateway's realtime state.
func (g *Gateway) Hub() *Hub { return g.hub }

// NewSession starts a session in the Connecting state.
func (g *Gateway) NewSession() *Session {
	return &Session{gw: g, state: newMachine(), log: g.log}
}

// Start launches the typing expiry sweeper. It is a no-op without a TTL.
func (g *Gateway) Start(ctx context.Context) {
	if g.ttl <= 0 {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	go g.sweepLoop(ctx)
}

// Stop stops the sweeper.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
}

// Shutdown closes every live connection.
func (g *Gateway) Shutdown() {
	for _, c := range g.hub.Registry.snapshot("") {
		c.Close(CloseGoingAway, "server shutdown")
	}
}

func (g *Gateway) sweepLoop(ctx context.Context) {
	interval := g.ttl / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.SweepTyping()
		case <-ctx.Done():
			return
		}
	}
}

// SweepTyping expires typing entries older than the TTL and tells each
// room the user stopped typing.
func (g *Gateway) SweepTyping() int {
	expired := g.hub.Typing.Expire(g.now(), g.ttl)
	for _, e := range expired {
		g.out.ToChat(e.ChatID, typingEvent(e.ChatID, e.UserID, false), "")
	}
	return len(expired)
}

func typingEvent(chatID, userID string, typing bool) Outbound {
	return Outbound{Name: EvtUserTyping, Data: map[string]any{
		"chatId":   chatID,
		"userId":   userID,
		"isTyping": typing,
	}}
}
