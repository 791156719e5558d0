package realtime

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// Hub owns all transient realtime state for one server: the connection
// registry, room subscriptions and typing sets. It is created once and
// injected, never global.
type Hub struct {
	Registry *Registry
	Rooms    *Rooms
	Typing   *Typing

	chatLocks [lockStripes]sync.Mutex
	userLocks [lockStripes]sync.Mutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		Registry: NewRegistry(),
		Rooms:    NewRooms(),
		Typing:   NewTyping(),
	}
}

// WithChat runs fn while holding chatID's ordering lock. Persisting a
// message and broadcasting it happen under this lock so that a room sees
// messages in the order they were written.
func (h *Hub) WithChat(chatID string, fn func()) {
	mu := h.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// WithUser runs fn while holding userID's session lock. Activating and
// closing a user's sessions, including the presence write and its
// announcement, happen under this lock.
func (h *Hub) WithUser(userID string, fn func()) {
	mu := &h.userLocks[stripe(userID)]
	mu.Lock()
	defer mu.Unlock()
	fn()
}

func (h *Hub) chatLock(chatID string) *sync.Mutex {
	return &h.chatLocks[stripe(chatID)]
}

func stripe(key string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return f.Sum32() % lockStripes
}

// JoinUser subscribes the user's live connection, if any, to chatID.
func (h *Hub) JoinUser(userID, chatID string) bool {
	c, ok := h.Registry.Lookup(userID)
	if !ok {
		return false
	}
	h.Rooms.Join(chatID, c)
	return true
}

// EvictUser unsubscribes the user's live connection, if any, from chatID.
func (h *Hub) EvictUser(userID, chatID string) bool {
	c, ok := h.Registry.Lookup(userID)
	if !ok {
		return false
	}
	h.Rooms.Leave(chatID, c)
	return true
}
