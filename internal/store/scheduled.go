package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

// ErrAlreadyDelivered is returned by DeliverScheduled when the row was
// already consumed for this occurrence.
var ErrAlreadyDelivered = apperr.Duplicate("scheduled message already delivered")

const scheduledColumns = `id, chat_id, user_id, content, type, scheduled_time, is_recurring,
	COALESCE(recurrence_pattern, ''), is_sent, created_at`

func scanScheduled(sc interface{ Scan(...any) error }) (*ScheduledMessage, error) {
	var s ScheduledMessage
	var pattern string
	var scheduledTime, createdAt int64
	if err := sc.Scan(&s.ID, &s.ChatID, &s.UserID, &s.Content, &s.Type, &scheduledTime,
		&s.IsRecurring, &pattern, &s.IsSent, &createdAt); err != nil {
		return nil, err
	}
	s.Pattern = Recurrence(pattern)
	s.ScheduledTime = fromMillis(scheduledTime)
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}

// CreateScheduled stores a pending scheduled message.
func (db *DB) CreateScheduled(ctx context.Context, s *ScheduledMessage) error {
	if strings.TrimSpace(s.Content) == "" {
		return apperr.Invalid("content is required")
	}
	if s.ScheduledTime.IsZero() {
		return apperr.Invalid("scheduled time is required")
	}
	if s.IsRecurring && !s.Pattern.Valid() {
		return apperr.Invalid("recurring messages need a daily, weekly or monthly pattern")
	}
	if !s.IsRecurring {
		s.Pattern = RecurNone
	}
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.Type == "" {
		s.Type = "text"
	}
	s.IsSent = false
	s.CreatedAt = time.Now()

	_, err := db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (id, chat_id, user_id, content, type, scheduled_time,
			is_recurring, recurrence_pattern, is_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		s.ID, s.ChatID, s.UserID, s.Content, s.Type, toMillis(s.ScheduledTime),
		s.IsRecurring, nullString(string(s.Pattern)), toMillis(s.CreatedAt))
	return classify(err, "scheduled message")
}

// ListScheduled returns a user's pending scheduled messages for a chat.
func (db *DB) ListScheduled(ctx context.Context, chatID, userID string) ([]ScheduledMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+scheduledColumns+` FROM scheduled_messages
		WHERE chat_id = ? AND user_id = ? AND is_sent = 0
		ORDER BY scheduled_time ASC`, chatID, userID)
	if err != nil {
		return nil, err
	}
	return collectScheduled(rows)
}

// DeleteScheduled removes a scheduled message owned by userID.
func (db *DB) DeleteScheduled(ctx context.Context, id, userID string) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM scheduled_messages WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete scheduled: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var owner string
	err = db.QueryRowContext(ctx, `SELECT user_id FROM scheduled_messages WHERE id = ?`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return apperr.Missing("scheduled message not found")
	}
	if err != nil {
		return fmt.Errorf("delete scheduled: %w", err)
	}
	return apperr.Forbidden("not your scheduled message")
}

// GetScheduled returns a scheduled message by ID, or a not-found error.
func (db *DB) GetScheduled(ctx context.Context, id string) (*ScheduledMessage, error) {
	s, err := scanScheduled(db.QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("scheduled message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled: %w", err)
	}
	return s, nil
}

// DueScheduled returns unsent rows whose scheduled time is at or before now.
func (db *DB) DueScheduled(ctx context.Context, now time.Time) ([]ScheduledMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+scheduledColumns+` FROM scheduled_messages
		WHERE is_sent = 0 AND scheduled_time <= ?
		ORDER BY scheduled_time ASC`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return collectScheduled(rows)
}

func collectScheduled(rows *sql.Rows) ([]ScheduledMessage, error) {
	defer func() { _ = rows.Close() }()
	var out []ScheduledMessage
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeliverScheduled consumes one occurrence of row: it appends the message
// (created_at = the scheduled time) and either marks the row sent or, for
// recurring rows, moves scheduled_time to next. The update is guarded on the
// row still being unsent at the same scheduled time, so concurrent or repeated
// deliveries of an occurrence return ErrAlreadyDelivered.
func (db *DB) DeliverScheduled(ctx context.Context, row ScheduledMessage, next time.Time) (*MessageView, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if row.IsRecurring {
		res, err = tx.ExecContext(ctx, `
			UPDATE scheduled_messages SET scheduled_time = ?
			WHERE id = ? AND is_sent = 0 AND scheduled_time = ?`,
			toMillis(next), row.ID, toMillis(row.ScheduledTime))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE scheduled_messages SET is_sent = 1
			WHERE id = ? AND is_sent = 0 AND scheduled_time = ?`,
			row.ID, toMillis(row.ScheduledTime))
	}
	if err != nil {
		return nil, fmt.Errorf("advance scheduled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAlreadyDelivered
	}

	v, err := appendMessage(ctx, tx, &Message{
		ChatID:    row.ChatID,
		UserID:    row.UserID,
		Content:   row.Content,
		Type:      row.Type,
		CreatedAt: row.ScheduledTime,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit scheduled: %w", err)
	}
	return v, nil
}
