// Package chat implements chat lifecycle and moderation operations that are
// driven by HTTP requests but announced over the realtime channel.
package chat

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
)

// Service orchestrates store writes and the events that announce them.
type Service struct {
	db  *store.DB
	hub *realtime.Hub
	out *realtime.Broadcaster
	log *zap.Logger
}

// NewService creates a chat service backed by the store.
func NewService(db *store.DB, hub *realtime.Hub, out *realtime.Broadcaster, log *zap.Logger) *Service {
	return &Service{db: db, hub: hub, out: out, log: logging.OrNop(log).Named("chat")}
}

// CreateInput describes a new chat.
type CreateInput struct {
	IsGroup     bool
	Name        string
	Icon        string
	Description string
	MemberIDs   []string
}

// CreateChat creates a group administered by creatorID, or a one-to-one chat
// with the single other member. An existing one-to-one chat between the
// same pair is returned instead of a duplicate; the bool reports whether a
// chat was created. Every online member is told about a new chat and joined
// to its room.
func (s *Service) CreateChat(ctx context.Context, creatorID string, in CreateInput) (*realtime.ChatPayload, bool, error) {
	others := slices.DeleteFunc(slices.Clone(in.MemberIDs), func(id string) bool {
		return id == creatorID || strings.TrimSpace(id) == ""
	})
	slices.Sort(others)
	others = slices.Compact(others)

	c := &store.Chat{IsGroup: in.IsGroup}
	if in.IsGroup {
		c.Name = strings.TrimSpace(in.Name)
		c.Icon = in.Icon
		c.Description = in.Description
		c.AdminID = creatorID
	} else {
		if len(others) != 1 {
			return nil, false, apperr.Invalid("a one-to-one chat needs exactly one other member")
		}
		existing, err := s.db.FindDirectChat(ctx, creatorID, others[0])
		if err == nil {
			p, err := s.payload(ctx, *existing)
			return p, false, err
		}
		if !apperr.Is(err, apperr.NotFound) {
			return nil, false, err
		}
	}

	if err := s.db.CreateChat(ctx, c, append([]string{creatorID}, others...)); err != nil {
		return nil, false, err
	}
	p, err := s.payload(ctx, *c)
	if err != nil {
		return nil, false, err
	}
	for _, m := range p.Members {
		s.hub.JoinUser(m.UserID, c.ID)
		s.out.ToUser(m.UserID, realtime.Outbound{
			Name: realtime.EvtNewChat,
			Data: map[string]any{"chat": p},
		})
	}
	s.log.Info("chat created",
		zap.String("chat_id", c.ID),
		zap.Bool("group", c.IsGroup),
		zap.Int("members", len(p.Members)))
	return p, true, nil
}

// Chat returns a chat the user belongs to, with its members.
func (s *Service) Chat(ctx context.Context, userID, chatID string) (*realtime.ChatPayload, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	c, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.payload(ctx, *c)
}

// ChatSummary is a chat as shown in the user's chat list.
type ChatSummary struct {
	realtime.ChatPayload
	LastMessage *realtime.MessagePayload `json:"lastMessage"`
}

// ListChats returns every chat the user belongs to, most recently active
// first, each with its members and latest visible message.
func (s *Service) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	chats, err := s.db.ChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		p, err := s.payload(ctx, c)
		if err != nil {
			return nil, err
		}
		sum := ChatSummary{ChatPayload: *p}
		last, err := s.db.RecentMessages(ctx, c.ID, 1)
		if err != nil {
			return nil, err
		}
		if len(last) == 1 {
			m := realtime.NewMessagePayload(last[0])
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) payload(ctx context.Context, c store.Chat) (*realtime.ChatPayload, error) {
	members, err := s.db.ListMembers(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	p := realtime.NewChatPayload(c, members)
	return &p, nil
}

func (s *Service) requireMember(ctx context.Context, chatID, userID string) error {
	ok, err := s.db.IsMember(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("Access denied")
	}
	return nil
}

// requireAdmin loads a group and checks that userID administers it.
func (s *Service) requireAdmin(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	c, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return nil, apperr.Invalid("not a group")
	}
	if c.AdminID != userID {
		return nil, apperr.Forbidden("Only the group admin can do this")
	}
	return c, nil
}

// ReadBy is one reader of a message.
type ReadBy struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Username string    `json:"username"`
	ReadAt   time.Time `json:"readAt"`
}

// HistoryEntry is a message with its read receipts.
type HistoryEntry struct {
	realtime.MessagePayload
	ReadBy []ReadBy `json:"readBy"`
}

// History returns a chat's messages in order with their read receipts.
func (s *Service) History(ctx context.Context, userID, chatID string) ([]HistoryEntry, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.db.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	reads, err := s.db.ChatReads(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		e := HistoryEntry{MessagePayload: realtime.NewMessagePayload(m), ReadBy: []ReadBy{}}
		for _, r := range reads[m.ID] {
			e.ReadBy = append(e.ReadBy, ReadBy{
				UserID:   r.UserID,
				UserName: r.User.Name,
				Username: r.User.Username,
				ReadAt:   r.ReadAt,
			})
		}
		out = append(out, e)
	}
	return out, nil
}

// GroupHit is a search result annotated for the searching user.
type GroupHit struct {
	ID                string `json:"id"`
	GroupName         string `json:"groupName"`
	GroupIcon         string `json:"groupIcon,omitempty"`
	Description       string `json:"description,omitempty"`
	MemberCount       int    `json:"memberCount"`
	IsMember          bool   `json:"isMember"`
	HasPendingRequest bool   `json:"hasPendingRequest"`
}

// SearchGroups finds groups by name or description. An empty query matches
// nothing.
func (s *Service) SearchGroups(ctx context.Context, userID, query string) ([]GroupHit, error) {
	hits := []GroupHit{}
	if strings.TrimSpace(query) == "" {
		return hits, nil
	}
	groups, err := s.db.SearchGroups(ctx, query, 20)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		member, err := s.db.IsMember(ctx, g.ID, userID)
		if err != nil {
			return nil, err
		}
		pending, err := s.db.HasPendingJoinRequest(ctx, g.ID, userID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, GroupHit{
			ID:                g.ID,
			GroupName:         g.Name,
			GroupIcon:         g.Icon,
			Description:       g.Description,
			MemberCount:       g.MemberCount,
			IsMember:          member,
			HasPendingRequest: pending,
		})
	}
	return hits, nil
}

// UserHit is a user search result.
type UserHit struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// SearchUsers finds other users by username. An empty query matches nothing.
func (s *Service) SearchUsers(ctx context.Context, userID, query string) ([]UserHit, error) {
	hits := []UserHit{}
	query = strings.TrimSpace(query)
	if query == "" {
		return hits, nil
	}
	users, err := s.db.SearchUsers(ctx, query, userID, 20)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		hits = append(hits, UserHit{
			ID:       u.ID,
			Name:     u.Name,
			Username: u.Username,
			Avatar:   u.Avatar,
			Status:   string(u.Presence),
			LastSeen: u.LastSeen,
		})
	}
	return hits, nil
}
