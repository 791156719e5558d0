package store

import "time"

// Presence is a user's availability status.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
)

// Valid reports whether p is one of the known presence values.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceAway, PresenceBusy:
		return true
	}
	return false
}

// Role is a member's role within a chat.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// JoinStatus is the lifecycle state of a join request.
type JoinStatus string

const (
	JoinPending  JoinStatus = "pending"
	JoinApproved JoinStatus = "approved"
	JoinRejected JoinStatus = "rejected"
)

// Recurrence is the calendar interval of a recurring scheduled message.
type Recurrence string

const (
	RecurNone    Recurrence = ""
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

// Valid reports whether r names a known interval.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurDaily, RecurWeekly, RecurMonthly:
		return true
	}
	return false
}

// BotUserID is the fixed identity of the SmartBot user row.
const BotUserID = "00000000-0000-0000-0000-000000000000"

// User is a registered account.
type User struct {
	ID        string
	Name      string
	Username  string
	Avatar    string
	Bio       string
	Presence  Presence
	LastSeen  time.Time
	CreatedAt time.Time
}

// UserRef holds the display fields joined onto messages and members.
type UserRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Chat is either a group or a one-to-one conversation.
type Chat struct {
	ID          string
	IsGroup     bool
	Name        string
	Icon        string
	Description string
	AdminID     string // empty for one-to-one chats
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Member is a chat membership row joined with the member's display fields.
type Member struct {
	ChatID   string
	UserID   string
	Role     Role
	IsMuted  bool
	JoinedAt time.Time
	User     UserRef
	LastSeen time.Time
}

// Message is one entry of a chat's append-only log.
type Message struct {
	Seq       int64
	ID        string
	ChatID    string
	UserID    string
	Content   string
	Type      string
	FileURL   string
	FileName  string
	ReplyTo   string
	IsDeleted bool
	IsPinned  bool
	CreatedAt time.Time
}

// MessageView is a message with its author's display fields.
type MessageView struct {
	Message
	Author UserRef
}

// MessageRead records that a user has read a message.
type MessageRead struct {
	MessageID string
	UserID    string
	ReadAt    time.Time
}

// Receipt is a read receipt with the reader's display fields.
type Receipt struct {
	MessageRead
	User UserRef
}

// JoinRequest is a user's request to join a group.
type JoinRequest struct {
	ID        string
	ChatID    string
	UserID    string
	Status    JoinStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	User      UserRef
}

// ScheduledMessage is a message waiting for its delivery time.
type ScheduledMessage struct {
	ID            string
	ChatID        string
	UserID        string
	Content       string
	Type          string
	ScheduledTime time.Time
	IsRecurring   bool
	Pattern       Recurrence
	IsSent        bool
	CreatedAt     time.Time
}
