package chat

import (
	"context"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
)

// RequestJoin files a join request for a group and notifies its admin.
func (s *Service) RequestJoin(ctx context.Context, chatID, userID string) (*store.JoinRequest, error) {
	c, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	req, err := s.db.CreateJoinRequest(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	s.out.ToUser(c.AdminID, realtime.Outbound{
		Name: realtime.EvtJoinRequestReceived,
		Data: map[string]string{"chatId": chatID, "userId": userID, "requestId": req.ID},
	})
	return req, nil
}

// JoinRequests lists a group's pending requests. Only the admin may see them.
func (s *Service) JoinRequests(ctx context.Context, adminID, chatID string) ([]store.JoinRequest, error) {
	if _, err := s.requireAdmin(ctx, chatID, adminID); err != nil {
		return nil, err
	}
	return s.db.PendingJoinRequests(ctx, chatID)
}

// ResolveJoinRequest approves or rejects a pending request. On approval the
// requester becomes a member, receives the chat with its current members
// and, when online, joins the room.
func (s *Service) ResolveJoinRequest(ctx context.Context, adminID, chatID, requestID string, approve bool) (*store.JoinRequest, error) {
	if _, err := s.requireAdmin(ctx, chatID, adminID); err != nil {
		return nil, err
	}
	req, err := s.db.GetJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ChatID != chatID {
		return nil, apperr.Missing("join request not found")
	}
	req, err = s.db.ResolveJoinRequest(ctx, requestID, approve)
	if err != nil {
		return nil, err
	}

	if !approve {
		s.out.ToUser(req.UserID, realtime.Outbound{
			Name: realtime.EvtJoinRequestRejected,
			Data: map[string]string{"chatId": chatID},
		})
		return req, nil
	}

	c, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	p, err := s.payload(ctx, *c)
	if err != nil {
		return nil, err
	}
	s.hub.JoinUser(req.UserID, chatID)
	s.out.ToUser(req.UserID, realtime.Outbound{
		Name: realtime.EvtJoinRequestApproved,
		Data: map[string]any{"chatId": chatID, "chat": p},
	})
	return req, nil
}

// LeaveGroup removes userID from a group. The leaver is told it was removed
// and the remaining members that someone left. An admin who leaves hands the
// group to the longest-standing member; the last member to leave deletes it.
func (s *Service) LeaveGroup(ctx context.Context, chatID, userID string) (store.LeaveResult, error) {
	res, err := s.db.LeaveGroup(ctx, chatID, userID)
	if err != nil {
		return res, err
	}
	s.departed(chatID, userID, res.NewAdminID)
	s.log.Info("member left group",
		zap.String("chat_id", chatID),
		zap.String("user_id", userID),
		zap.String("new_admin_id", res.NewAdminID),
		zap.Bool("deleted", res.Deleted))
	return res, nil
}

// RemoveMember removes memberID from a group administered by adminID.
func (s *Service) RemoveMember(ctx context.Context, adminID, chatID, memberID string) error {
	if _, err := s.requireAdmin(ctx, chatID, adminID); err != nil {
		return err
	}
	if memberID == adminID {
		return apperr.Invalid("the admin must leave the group instead")
	}
	if err := s.db.RemoveMember(ctx, chatID, memberID); err != nil {
		return err
	}
	s.departed(chatID, memberID, "")
	return nil
}

func (s *Service) departed(chatID, userID, newAdminID string) {
	s.hub.EvictUser(userID, chatID)
	s.out.ToUser(userID, realtime.Outbound{
		Name: realtime.EvtRemovedFromGroup,
		Data: map[string]string{"chatId": chatID},
	})
	data := map[string]string{"chatId": chatID, "userId": userID}
	if newAdminID != "" {
		data["newAdminId"] = newAdminID
	}
	s.out.ToChat(chatID, realtime.Outbound{Name: realtime.EvtMemberLeftGroup, Data: data}, "")
}
