package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

const joinRequestQuery = `
	SELECT r.id, r.chat_id, r.user_id, r.status, r.created_at, r.updated_at,
		u.name, u.username, u.avatar
	FROM join_requests r
	JOIN users u ON u.id = r.user_id`

func scanJoinRequest(sc interface{ Scan(...any) error }) (*JoinRequest, error) {
	var r JoinRequest
	var status string
	var createdAt, updatedAt int64
	if err := sc.Scan(&r.ID, &r.ChatID, &r.UserID, &status, &createdAt, &updatedAt,
		&r.User.Name, &r.User.Username, &r.User.Avatar); err != nil {
		return nil, err
	}
	r.Status = JoinStatus(status)
	r.User.ID = r.UserID
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

// CreateJoinRequest files a pending request for userID to join a group.
// A second request while one is pending fails with a conflict and leaves the
// first untouched.
func (db *DB) CreateJoinRequest(ctx context.Context, chatID, userID string) (*JoinRequest, error) {
	chat, err := db.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup {
		return nil, apperr.Invalid("can only request to join groups")
	}
	member, err := db.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, apperr.Duplicate("already a member of this group")
	}

	now := time.Now()
	r := &JoinRequest{
		ID:        NewID(),
		ChatID:    chatID,
		UserID:    userID,
		Status:    JoinPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO join_requests (id, chat_id, user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)`,
		r.ID, r.ChatID, r.UserID, toMillis(now), toMillis(now))
	if err != nil {
		return nil, classify(err, "join request")
	}
	return db.GetJoinRequest(ctx, r.ID)
}

// GetJoinRequest returns a request by ID, or a not-found error.
func (db *DB) GetJoinRequest(ctx context.Context, id string) (*JoinRequest, error) {
	r, err := scanJoinRequest(db.QueryRowContext(ctx, joinRequestQuery+` WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("join request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get join request: %w", err)
	}
	return r, nil
}

// PendingJoinRequests lists a group's undecided requests, oldest first.
func (db *DB) PendingJoinRequests(ctx context.Context, chatID string) ([]JoinRequest, error) {
	rows, err := db.QueryContext(ctx, joinRequestQuery+`
		WHERE r.chat_id = ? AND r.status = 'pending'
		ORDER BY r.created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []JoinRequest
	for rows.Next() {
		r, err := scanJoinRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// HasPendingJoinRequest reports whether userID is waiting on chatID's admin.
func (db *DB) HasPendingJoinRequest(ctx context.Context, chatID, userID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM join_requests
		WHERE chat_id = ? AND user_id = ? AND status = 'pending'`, chatID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pending join request: %w", err)
	}
	return n > 0, nil
}

// ResolveJoinRequest moves a pending request to approved or rejected. Approval
// adds the requester as a member in the same transaction. Requests that are
// no longer pending fail with a conflict.
func (db *DB) ResolveJoinRequest(ctx context.Context, id string, approve bool) (*JoinRequest, error) {
	status := JoinRejected
	if approve {
		status = JoinApproved
	}
	now := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var chatID, userID, current string
	err = tx.QueryRowContext(ctx,
		`SELECT chat_id, user_id, status FROM join_requests WHERE id = ?`, id).Scan(&chatID, &userID, &current)
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("join request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load join request: %w", err)
	}
	if JoinStatus(current) != JoinPending {
		return nil, apperr.Duplicate("join request already " + current)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE join_requests SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), toMillis(now), id); err != nil {
		return nil, fmt.Errorf("update join request: %w", err)
	}
	if approve {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_members (chat_id, user_id, role, is_muted, joined_at)
			VALUES (?, ?, 'member', 0, ?)
			ON CONFLICT(chat_id, user_id) DO NOTHING`, chatID, userID, toMillis(now)); err != nil {
			return nil, classify(err, "chat member")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit join request: %w", err)
	}
	return db.GetJoinRequest(ctx, id)
}
