package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

const userColumns = `id, name, username, avatar, bio, presence_status, last_seen, created_at`

func scanUser(sc interface{ Scan(...any) error }) (*User, error) {
	var u User
	var presence string
	var lastSeen, createdAt int64
	if err := sc.Scan(&u.ID, &u.Name, &u.Username, &u.Avatar, &u.Bio, &presence, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	u.Presence = Presence(presence)
	u.LastSeen = fromMillis(lastSeen)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// CreateUser inserts a user. An empty ID is filled in.
func (db *DB) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.Presence == "" {
		u.Presence = PresenceOffline
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, username, avatar, bio, presence_status, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Username, u.Avatar, u.Bio, string(u.Presence), toMillis(u.LastSeen), toMillis(u.CreatedAt))
	return classify(err, "user")
}

// GetUser returns a user by ID, or a not-found error.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers returns every user except the bot, ordered by creation.
func (db *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id != ? ORDER BY created_at ASC`, BotUserID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SearchUsers finds users whose username contains query, leaving out
// excludeID and the bot.
func (db *DB) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE username LIKE ? ESCAPE '\' AND id != ? AND id != ?
		ORDER BY username ASC
		LIMIT ?`, "%"+escapeLike(query)+"%", excludeID, BotUserID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetPresence updates a user's presence status and last-seen time.
func (db *DB) SetPresence(ctx context.Context, userID string, p Presence, lastSeen time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET presence_status = ?, last_seen = ? WHERE id = ?`,
		string(p), toMillis(lastSeen), userID)
	if err != nil {
		return classify(err, "presence")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Missing("user not found")
	}
	return nil
}

// EnsureBotUser creates the SmartBot user row if missing and marks it online.
func (db *DB) EnsureBotUser(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, username, avatar, bio, presence_status, last_seen, created_at)
		VALUES (?, 'SmartBot', 'smartbot', '🤖', ?, 'online', ?, ?)
		ON CONFLICT(id) DO UPDATE SET presence_status = 'online', last_seen = excluded.last_seen`,
		BotUserID,
		"AI-powered assistant ready to help you anytime! Mention me with @smartbot or chat with me directly.",
		now, now)
	return classify(err, "bot user")
}
