package realtime

import (
	"encoding/json"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

// Outbound event names.
const (
	EvtNewChat             = "new_chat"
	EvtNewMessage          = "new_message"
	EvtUserTyping          = "user_typing"
	EvtBotTyping           = "bot_typing"
	EvtUserOnline          = "user_online"
	EvtUserOffline         = "user_offline"
	EvtPresenceChanged     = "user_presence_changed"
	EvtMessageDelivered    = "message_delivered"
	EvtMessageRead         = "message_read"
	EvtJoinRequestReceived = "join_request_received"
	EvtJoinRequestApproved = "join_request_approved"
	EvtJoinRequestRejected = "join_request_rejected"
	EvtRemovedFromGroup    = "removed_from_group"
	EvtMemberLeftGroup     = "member_left_group"
	EvtIncomingCall        = "incoming_call"
	EvtCallAnswered        = "call_answered"
	EvtIceCandidate        = "ice_candidate"
	EvtCallEnded           = "call_ended"
	EvtError               = "error"
)

// Outbound is a server-to-client event, framed as {"event": ..., "data": ...}.
type Outbound struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// UserRef is the author block joined onto messages.
type UserRef = store.UserRef

// MessagePayload is the wire form of a persisted message.
type MessagePayload struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	FileURL   string    `json:"fileUrl,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	IsPinned  bool      `json:"isPinned"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	User      UserRef   `json:"user"`
}

// NewMessagePayload converts a stored message view.
func NewMessagePayload(v store.MessageView) MessagePayload {
	return MessagePayload{
		ID:        v.ID,
		ChatID:    v.ChatID,
		UserID:    v.UserID,
		Content:   v.Content,
		Type:      v.Type,
		FileURL:   v.FileURL,
		FileName:  v.FileName,
		ReplyTo:   v.ReplyTo,
		IsPinned:  v.IsPinned,
		IsDeleted: v.IsDeleted,
		CreatedAt: v.CreatedAt,
		User:      v.Author,
	}
}

// NewMessage wraps a message view as a new_message event.
func NewMessage(v store.MessageView) Outbound {
	return Outbound{Name: EvtNewMessage, Data: map[string]any{"message": NewMessagePayload(v)}}
}

// MemberPayload is the wire form of a chat member.
type MemberPayload struct {
	UserID   string    `json:"userId"`
	Role     string    `json:"role"`
	IsMuted  bool      `json:"isMuted"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
	User     UserRef   `json:"user"`
}

// ChatPayload is the wire form of a chat with its current members.
type ChatPayload struct {
	ID          string          `json:"id"`
	IsGroup     bool            `json:"isGroup"`
	GroupName   string          `json:"groupName,omitempty"`
	GroupIcon   string          `json:"groupIcon,omitempty"`
	Description string          `json:"description,omitempty"`
	AdminID     string          `json:"adminId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Members     []MemberPayload `json:"members"`
}

// NewChatPayload converts a stored chat and its members.
func NewChatPayload(c store.Chat, members []store.Member) ChatPayload {
	p := ChatPayload{
		ID:          c.ID,
		IsGroup:     c.IsGroup,
		GroupName:   c.Name,
		GroupIcon:   c.Icon,
		Description: c.Description,
		AdminID:     c.AdminID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Members:     make([]MemberPayload, 0, len(members)),
	}
	for _, m := range members {
		p.Members = append(p.Members, MemberPayload{
			UserID:   m.UserID,
			Role:     string(m.Role),
			IsMuted:  m.IsMuted,
			JoinedAt: m.JoinedAt,
			LastSeen: m.LastSeen,
			User:     m.User,
		})
	}
	return p
}

// ErrorPayload is sent to the originating connection when an inbound event
// is rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// encode renders an outbound event once for fan-out.
func encode(evt Outbound) ([]byte, error) {
	return json.Marshal(evt)
}
