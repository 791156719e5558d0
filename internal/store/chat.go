package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const chatColumns = `id, is_group, COALESCE(group_name, ''), COALESCE(group_icon, ''),
	COALESCE(description, ''), COALESCE(admin_id, ''), created_at, updated_at`

func scanChat(sc interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	var createdAt, updatedAt int64
	if err := sc.Scan(&c.ID, &c.IsGroup, &c.Name, &c.Icon, &c.Description, &c.AdminID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func insertMember(ctx context.Context, ex execer, chatID, userID string, role Role, at time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role, is_muted, joined_at)
		VALUES (?, ?, ?, 0, ?)`, chatID, userID, string(role), toMillis(at))
	return classify(err, "chat member")
}

// CreateChat inserts a chat and its members in one transaction. For groups
// the AdminID becomes the admin member; every other member gets RoleMember.
// A one-to-one chat must list exactly two distinct members.
func (db *DB) CreateChat(ctx context.Context, c *Chat, memberIDs []string) error {
	members := dedupe(memberIDs)
	if c.IsGroup {
		if c.AdminID == "" {
			return apperr.Invalid("group needs an admin")
		}
		if strings.TrimSpace(c.Name) == "" {
			return apperr.Invalid("group name is required")
		}
		if !slices.Contains(members, c.AdminID) {
			members = append([]string{c.AdminID}, members...)
		}
	} else {
		if len(members) != 2 {
			return apperr.Invalid("one-to-one chat needs exactly two members")
		}
		c.AdminID = ""
	}
	if c.ID == "" {
		c.ID = NewID()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, is_group, group_name, group_icon, description, admin_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.IsGroup, nullString(c.Name), nullString(c.Icon), nullString(c.Description),
		nullString(c.AdminID), toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if err != nil {
		return classify(err, "chat")
	}
	for _, uid := range members {
		role := RoleMember
		if c.IsGroup && uid == c.AdminID {
			role = RoleAdmin
		}
		if err := insertMember(ctx, tx, c.ID, uid, role, c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChat returns a chat by ID, or a not-found error.
func (db *DB) GetChat(ctx context.Context, id string) (*Chat, error) {
	c, err := scanChat(db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

// ChatIDsForUser lists every chat the user is a member of.
func (db *DB) ChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT chat_id FROM chat_members WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChatsForUser lists the user's chats, most recently active first.
func (db *DB) ChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE id IN (SELECT chat_id FROM chat_members WHERE user_id = ?)
		ORDER BY updated_at DESC, created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

const memberQuery = `
	SELECT m.chat_id, m.user_id, m.role, m.is_muted, m.joined_at,
		u.name, u.username, u.avatar, u.last_seen
	FROM chat_members m
	JOIN users u ON u.id = m.user_id`

func scanMember(sc interface{ Scan(...any) error }) (*Member, error) {
	var m Member
	var role string
	var joinedAt, lastSeen int64
	if err := sc.Scan(&m.ChatID, &m.UserID, &role, &m.IsMuted, &joinedAt,
		&m.User.Name, &m.User.Username, &m.User.Avatar, &lastSeen); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.User.ID = m.UserID
	m.JoinedAt = fromMillis(joinedAt)
	m.LastSeen = fromMillis(lastSeen)
	return &m, nil
}

// ListMembers returns a chat's members, longest-standing first.
func (db *DB) ListMembers(ctx context.Context, chatID string) ([]Member, error) {
	rows, err := db.QueryContext(ctx, memberQuery+`
		WHERE m.chat_id = ?
		ORDER BY m.joined_at ASC, m.rowid ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// GetMember returns the membership row, or a not-found error.
func (db *DB) GetMember(ctx context.Context, chatID, userID string) (*Member, error) {
	m, err := scanMember(db.QueryRowContext(ctx, memberQuery+`
		WHERE m.chat_id = ? AND m.user_id = ?`, chatID, userID))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// IsMember reports whether userID currently belongs to chatID.
func (db *DB) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return n > 0, nil
}

// RemoveMember deletes a group membership. One-to-one chats are immutable.
func (db *DB) RemoveMember(ctx context.Context, chatID, userID string) error {
	res, err := db.ExecContext(ctx, `
		DELETE FROM chat_members
		WHERE chat_id = ? AND user_id = ?
			AND chat_id IN (SELECT id FROM chats WHERE is_group = 1)`, chatID, userID)
	if err != nil {
		return classify(err, "chat member")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Missing("member not found")
	}
	return nil
}

// PromoteMember makes userID the group's admin and demotes the previous one.
func (db *DB) PromoteMember(ctx context.Context, chatID, userID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := promote(ctx, tx, chatID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func promote(ctx context.Context, ex execer, chatID, userID string) error {
	if _, err := ex.ExecContext(ctx,
		`UPDATE chat_members SET role = 'member' WHERE chat_id = ? AND role = 'admin'`, chatID); err != nil {
		return fmt.Errorf("demote admin: %w", err)
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE chat_members SET role = 'admin' WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("promote member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Missing("member not found")
	}
	if _, err := ex.ExecContext(ctx,
		`UPDATE chats SET admin_id = ?, updated_at = ? WHERE id = ? AND is_group = 1`,
		userID, time.Now().UnixMilli(), chatID); err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return nil
}

// LeaveResult describes the group after a member left.
type LeaveResult struct {
	NewAdminID string // set when the admin left and a successor was promoted
	Deleted    bool   // the last member left and the group was removed
}

// LeaveGroup removes userID from a group in one transaction. When the admin
// leaves, the longest-standing remaining member becomes admin; when nobody
// is left, the group is deleted.
func (db *DB) LeaveGroup(ctx context.Context, chatID, userID string) (LeaveResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return LeaveResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var isGroup bool
	var adminID string
	err = tx.QueryRowContext(ctx,
		`SELECT is_group, COALESCE(admin_id, '') FROM chats WHERE id = ?`, chatID).Scan(&isGroup, &adminID)
	if err == sql.ErrNoRows {
		return LeaveResult{}, apperr.Missing("chat not found")
	}
	if err != nil {
		return LeaveResult{}, fmt.Errorf("load chat: %w", err)
	}
	if !isGroup {
		return LeaveResult{}, apperr.Invalid("one-to-one chats cannot be left")
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return LeaveResult{}, classify(err, "chat member")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return LeaveResult{}, apperr.Missing("member not found")
	}

	var result LeaveResult
	if adminID == userID {
		var next string
		err := tx.QueryRowContext(ctx, `
			SELECT user_id FROM chat_members WHERE chat_id = ?
			ORDER BY joined_at ASC, rowid ASC LIMIT 1`, chatID).Scan(&next)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
				return LeaveResult{}, fmt.Errorf("delete empty group: %w", err)
			}
			result.Deleted = true
		case err != nil:
			return LeaveResult{}, fmt.Errorf("pick successor: %w", err)
		default:
			if err := promote(ctx, tx, chatID, next); err != nil {
				return LeaveResult{}, err
			}
			result.NewAdminID = next
		}
	}
	if err := tx.Commit(); err != nil {
		return LeaveResult{}, fmt.Errorf("commit leave: %w", err)
	}
	return result, nil
}

// DeleteChat removes a chat; members, messages and requests cascade.
func (db *DB) DeleteChat(ctx context.Context, chatID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return classify(err, "chat")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Missing("chat not found")
	}
	return nil
}

// FindDirectChat returns the one-to-one chat between a and b, or a not-found error.
func (db *DB) FindDirectChat(ctx context.Context, a, b string) (*Chat, error) {
	c, err := scanChat(db.QueryRowContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE is_group = 0
			AND id IN (SELECT chat_id FROM chat_members WHERE user_id = ?)
			AND id IN (SELECT chat_id FROM chat_members WHERE user_id = ?)
		ORDER BY created_at ASC
		LIMIT 1`, a, b))
	if err == sql.ErrNoRows {
		return nil, apperr.Missing("chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find direct chat: %w", err)
	}
	return c, nil
}

// GroupSummary is a search hit with its member count.
type GroupSummary struct {
	Chat
	MemberCount int
}

// SearchGroups finds groups whose name or description contains query.
func (db *DB) SearchGroups(ctx context.Context, query string, limit int) ([]GroupSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.QueryContext(ctx, `
		SELECT `+chatColumns+`,
			(SELECT COUNT(*) FROM chat_members m WHERE m.chat_id = chats.id)
		FROM chats
		WHERE is_group = 1
			AND (group_name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')
		ORDER BY updated_at DESC
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GroupSummary
	for rows.Next() {
		var g GroupSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&g.ID, &g.IsGroup, &g.Name, &g.Icon, &g.Description, &g.AdminID,
			&createdAt, &updatedAt, &g.MemberCount); err != nil {
			return nil, err
		}
		g.CreatedAt = fromMillis(createdAt)
		g.UpdatedAt = fromMillis(updatedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
