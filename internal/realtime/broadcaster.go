package realtime

import (
	"encoding/json"

	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"go.uber.org/zap"
)

// Scope says which recipients a fan-out targeted.
type Scope string

const (
	ScopeUser Scope = "user"
	ScopeChat Scope = "chat"
	ScopeAll  Scope = "all"
)

// Fanout is the bus payload mirrored for every delivered event. Payload is
// the encoded frame exactly as clients received it.
type Fanout struct {
	Event     string          `json:"event"`
	Scope     Scope           `json:"scope"`
	Target    string          `json:"target,omitempty"`
	Delivered int             `json:"delivered"`
	Payload   json.RawMessage `json:"payload"`
}

// Broadcaster delivers outbound events to one user, one chat room or every
// connection. Delivery is fire-and-forget: offline recipients are skipped
// and nothing is queued.
type Broadcaster struct {
	hub *Hub
	bus *bus.Bus
	log *zap.Logger
}

// NewBroadcaster creates a broadcaster over hub. b may be nil.
func NewBroadcaster(hub *Hub, b *bus.Bus, log *zap.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, bus: b, log: logging.OrNop(log)}
}

// ToUser delivers evt to the user's live connection. It reports whether a
// connection accepted it.
func (b *Broadcaster) ToUser(userID string, evt Outbound) bool {
	payload, ok := b.encode(evt)
	if !ok {
		return false
	}
	c, online := b.hub.Registry.Lookup(userID)
	delivered := 0
	if online && c.Send(payload) == nil {
		delivered = 1
	}
	b.mirror(evt.Name, ScopeUser, userID, delivered, payload)
	return delivered == 1
}

// ToChat delivers evt to every connection in chatID's room except the one
// whose ID is exceptConnID (empty excludes nobody). It returns the number of
// connections that accepted the event.
func (b *Broadcaster) ToChat(chatID string, evt Outbound, exceptConnID string) int {
	payload, ok := b.encode(evt)
	if !ok {
		return 0
	}
	delivered := 0
	for _, c := range b.hub.Rooms.Members(chatID) {
		if c.ID() == exceptConnID {
			continue
		}
		if c.Send(payload) == nil {
			delivered++
		}
	}
	b.mirror(evt.Name, ScopeChat, chatID, delivered, payload)
	return delivered
}

// ToAll delivers evt to every connected user except exceptUserID.
func (b *Broadcaster) ToAll(evt Outbound, exceptUserID string) int {
	payload, ok := b.encode(evt)
	if !ok {
		return 0
	}
	delivered := 0
	for _, c := range b.hub.Registry.snapshot(exceptUserID) {
		if c.Send(payload) == nil {
			delivered++
		}
	}
	b.mirror(evt.Name, ScopeAll, "", delivered, payload)
	return delivered
}

func (b *Broadcaster) encode(evt Outbound) ([]byte, bool) {
	payload, err := encode(evt)
	if err != nil {
		b.log.Error("encode event", zap.String("event", evt.Name), zap.Error(err))
		return nil, false
	}
	return payload, true
}

func (b *Broadcaster) mirror(name string, scope Scope, target string, delivered int, payload []byte) {
	b.bus.Emit(bus.Fanout(name), Fanout{
		Event:     name,
		Scope:     scope,
		Target:    target,
		Delivered: delivered,
		Payload:   payload,
	})
}
