package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
)

// DB wraps the SQLite database that holds users, chats, messages and the
// moderation/scheduling tables.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// NewID returns a time-sortable identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classify maps SQLite constraint failures onto the error taxonomy.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
		switch sqErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return apperr.Wrap(apperr.Conflict, what+" already exists", err)
		case sqlite3.ErrConstraintForeignKey:
			return apperr.Wrap(apperr.NotFound, what+" references a missing record", err)
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return apperr.Wrap(apperr.Validation, "invalid "+what, err)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
