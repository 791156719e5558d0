package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

const viewQuery = `
	SELECT m.seq, m.id, m.chat_id, m.user_id, m.content, m.type,
		COALESCE(m.file_url, ''), COALESCE(m.file_name, ''), COALESCE(m.reply_to, ''),
		m.is_deleted, m.is_pinned, m.created_at,
		u.name, u.username, u.avatar
	FROM messages m
	JOIN users u ON u.id = m.user_id`

func scanView(sc interface{ Scan(...any) error }) (*MessageView, error) {
	var v MessageView
	var createdAt int64
	if err := sc.Scan(&v.Seq, &v.ID, &v.ChatID, &v.UserID, &v.Content, &v.Type,
		&v.FileURL, &v.FileName, &v.ReplyTo, &v.IsDeleted, &v.IsPinned, &createdAt,
		&v.Author.Name, &v.Author.Username, &v.Author.Avatar); err != nil {
		return nil, err
	}
	v.Author.ID = v.UserID
	v.CreatedAt = fromMillis(createdAt)
	return &v, nil
}

type queryer interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// appendMessage inserts m, bumps the chat's updated_at and returns the joined view.
func appendMessage(ctx context.Context, q queryer, m *Message) (*MessageView, error) {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ReplyTo != "" {
		var chatID string
		err := q.QueryRowContext(ctx, `SELECT chat_id FROM messages WHERE id = ?`, m.ReplyTo).Scan(&chatID)
		if err == sql.ErrNoRows {
			return nil, apperr.Missing("reply target not found")
		}
		if err != nil {
			return nil, fmt.Errorf("reply target: %w", err)
		}
		if chatID != m.ChatID {
			return nil, apperr.Invalid("reply target belongs to another chat")
		}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, user_id, content, type, file_url, file_name, reply_to,
			is_deleted, is_pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		m.ID, m.ChatID, m.UserID, m.Content, m.Type, nullString(m.FileURL), nullString(m.FileName),
		nullString(m.ReplyTo), toMillis(m.CreatedAt))
	if err != nil {
		return nil, classify(err, "message")
	}
	m.Seq, _ = res.LastInsertId()

	if _, err := q.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), m.ChatID); err != nil {
		return nil, fmt.Errorf("touch chat: %w", err)
	}

	v, err := scanView(q.QueryRowContext(ctx, viewQuery+` WHERE m.id = ?`, m.ID))
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	return v, nil
}

// AppendMessage persists m and bumps the chat's last activity in one
// transaction. The returned view carries the author's display fields.
func (db *DB) AppendMessage(ctx context.Context, m *Message) (*MessageView, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	v, err := appendMessage(ctx, tx, m)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return v, nil
}

// GetMessage returns a message by ID, or a not-found error.
func (db *DB) GetMessage(ctx context.Context, id string) (*MessageView, error) {
	v, err := scanView(db.QueryRowContext(ctx, viewQuery+` WHERE m.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return v, nil
}

// RecentMessages returns the last n messages of a chat, oldest first.
func (db *DB) RecentMessages(ctx context.Context, chatID string, n int) ([]MessageView, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx, viewQuery+`
		WHERE m.chat_id = ? AND m.is_deleted = 0
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT ?`, chatID, n)
	if err != nil {
		return nil, err
	}
	msgs, err := collectViews(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns a chat's full history in log order.
func (db *DB) ListMessages(ctx context.Context, chatID string) ([]MessageView, error) {
	rows, err := db.QueryContext(ctx, viewQuery+`
		WHERE m.chat_id = ?
		ORDER BY m.created_at ASC, m.seq ASC`, chatID)
	if err != nil {
		return nil, err
	}
	return collectViews(rows)
}

func collectViews(rows *sql.Rows) ([]MessageView, error) {
	defer func() { _ = rows.Close() }()
	var msgs []MessageView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *v)
	}
	return msgs, rows.Err()
}

// UpsertRead records that userID read messageID at the given time. Repeated
// calls keep a single row and move read_at forward to the latest mark.
func (db *DB) UpsertRead(ctx context.Context, messageID, userID string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO UPDATE SET read_at = excluded.read_at`,
		messageID, userID, toMillis(at))
	return classify(err, "read receipt")
}

// GetRead returns the read receipt for (messageID, userID), or a not-found error.
func (db *DB) GetRead(ctx context.Context, messageID, userID string) (*MessageRead, error) {
	r := MessageRead{MessageID: messageID, UserID: userID}
	var readAt int64
	err := db.QueryRowContext(ctx,
		`SELECT read_at FROM message_reads WHERE message_id = ? AND user_id = ?`,
		messageID, userID).Scan(&readAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("read receipt not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get read: %w", err)
	}
	r.ReadAt = fromMillis(readAt)
	return &r, nil
}

// CountReads returns how many receipts exist for a message.
func (db *DB) CountReads(ctx context.Context, messageID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_reads WHERE message_id = ?`, messageID).Scan(&n)
	return n, err
}

// ChatReads returns every read receipt in chatID keyed by message ID, each
// joined with the reader's display fields.
func (db *DB) ChatReads(ctx context.Context, chatID string) (map[string][]Receipt, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.message_id, r.user_id, r.read_at, u.name, u.username, COALESCE(u.avatar, '')
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		JOIN users u ON u.id = r.user_id
		WHERE m.chat_id = ?
		ORDER BY r.read_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]Receipt)
	for rows.Next() {
		var r Receipt
		var readAt int64
		if err := rows.Scan(&r.MessageID, &r.UserID, &readAt, &r.User.Name, &r.User.Username, &r.User.Avatar); err != nil {
			return nil, err
		}
		r.ReadAt = fromMillis(readAt)
		r.User.ID = r.UserID
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, rows.Err()
}
