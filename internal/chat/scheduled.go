package chat

import (
	"context"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/store"
)

// ScheduleInput describes a message to deliver later.
type ScheduleInput struct {
	ChatID        string
	Content       string
	ScheduledTime time.Time
	IsRecurring   bool
	Pattern       store.Recurrence
}

// ScheduleMessage stores a scheduled message for a chat the user belongs to.
// A pattern given without IsRecurring is ignored.
func (s *Service) ScheduleMessage(ctx context.Context, userID string, in ScheduleInput) (*store.ScheduledMessage, error) {
	if err := s.requireMember(ctx, in.ChatID, userID); err != nil {
		return nil, err
	}
	sm := &store.ScheduledMessage{
		ChatID:        in.ChatID,
		UserID:        userID,
		Content:       in.Content,
		Type:          "text",
		ScheduledTime: in.ScheduledTime,
		IsRecurring:   in.IsRecurring,
		Pattern:       in.Pattern,
	}
	if err := s.db.CreateScheduled(ctx, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// ListScheduled returns the user's pending scheduled messages in a chat.
func (s *Service) ListScheduled(ctx context.Context, userID, chatID string) ([]store.ScheduledMessage, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.db.ListScheduled(ctx, chatID, userID)
}

// DeleteScheduled cancels one of the user's scheduled messages.
func (s *Service) DeleteScheduled(ctx context.Context, userID, id string) error {
	return s.db.DeleteScheduled(ctx, id, userID)
}
