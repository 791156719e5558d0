package realtime

import (
	"sync"
	"time"
)

// TypingEntry identifies one user typing in one chat.
type TypingEntry struct {
	ChatID string
	UserID string
}

// Typing holds the per-chat set of users currently typing.
type Typing struct {
	mu    sync.Mutex
	chats map[string]map[string]time.Time // chatID -> userID -> last signal
}

// NewTyping returns empty typing state.
func NewTyping() *Typing {
	return &Typing{chats: make(map[string]map[string]time.Time)}
}

// Set records a typing start (refreshing its timestamp) or stop.
func (t *Typing) Set(chatID, userID string, typing bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.chats[chatID]
	if !typing {
		if users != nil {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.chats, chatID)
			}
		}
		return
	}
	if users == nil {
		users = make(map[string]time.Time)
		t.chats[chatID] = users
	}
	users[userID] = now
}

// Typers returns the users typing in chatID.
func (t *Typing) Typers(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.chats[chatID]))
	for id := range t.chats[chatID] {
		out = append(out, id)
	}
	return out
}

// ClearUser removes userID from every chat and returns the chats affected.
func (t *Typing) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cleared []string
	for chatID, users := range t.chats {
		if _, ok := users[userID]; ok {
			delete(users, userID)
			cleared = append(cleared, chatID)
			if len(users) == 0 {
				delete(t.chats, chatID)
			}
		}
	}
	return cleared
}

// Expire removes entries whose last signal is older than ttl.
func (t *Typing) Expire(now time.Time, ttl time.Duration) []TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []TypingEntry
	for chatID, users := range t.chats {
		for userID, at := range users {
			if now.Sub(at) >= ttl {
				delete(users, userID)
				expired = append(expired, TypingEntry{ChatID: chatID, UserID: userID})
			}
		}
		if len(users) == 0 {
			delete(t.chats, chatID)
		}
	}
	return expired
}
