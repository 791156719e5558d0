package realtime

import "sync"

// Rooms tracks which connections listen to which chats.
type Rooms struct {
	mu     sync.RWMutex
	byChat map[string]map[string]Conn     // chatID -> connID -> conn
	byConn map[string]map[string]struct{} // connID -> chatIDs
}

// NewRooms returns empty room state.
func NewRooms() *Rooms {
	return &Rooms{
		byChat: make(map[string]map[string]Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes conn to chatID. Joining twice is a no-op.
func (r *Rooms) Join(chatID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.byChat[chatID]
	if room == nil {
		room = make(map[string]Conn)
		r.byChat[chatID] = room
	}
	room[conn.ID()] = conn

	chats := r.byConn[conn.ID()]
	if chats == nil {
		chats = make(map[string]struct{})
		r.byConn[conn.ID()] = chats
	}
	chats[chatID] = struct{}{}
}

// Leave unsubscribes conn from chatID.
func (r *Rooms) Leave(chatID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, conn.ID())
}

// LeaveAll unsubscribes conn from every chat and returns the chats it left.
func (r *Rooms) LeaveAll(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	for chatID := range r.byConn[conn.ID()] {
		left = append(left, chatID)
		r.leaveLocked(chatID, conn.ID())
	}
	delete(r.byConn, conn.ID())
	return left
}

// In reports whether conn currently listens to chatID.
func (r *Rooms) In(chatID string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byChat[chatID][conn.ID()]
	return ok
}

// Members returns a snapshot of the connections in chatID's room.
func (r *Rooms) Members(chatID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byChat[chatID]
	out := make([]Conn, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// ChatsOf returns the chats conn listens to.
func (r *Rooms) ChatsOf(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byConn[conn.ID()]))
	for chatID := range r.byConn[conn.ID()] {
		out = append(out, chatID)
	}
	return out
}

func (r *Rooms) leaveLocked(chatID, connID string) {
	if room := r.byChat[chatID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.byChat, chatID)
		}
	}
	if chats, ok := r.byConn[connID]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.byConn, connID)
		}
	}
}
