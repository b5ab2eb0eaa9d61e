package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rryowa/journalgate/internal/models"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionAlreadyUsed = errors.New("session already used")
	ErrUserNotFound       = errors.New("user not found")
	ErrEntryNotFound      = errors.New("journal entry not found")
	ErrInvalidPassword    = errors.New("invalid credentials")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// UserLookup resolves a user record by id. Implementations return
// ErrUserNotFound when no such user exists.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*models.User, error)
}

type UserRepository interface {
	UserLookup
	CredentialVerifier
}

type JournalRepository interface {
	GetEntry(ctx context.Context, id string) (*models.JournalEntry, error)
	GetEntryOwner(ctx context.Context, id string) (string, error)
	CreateEntry(ctx context.Context, entry models.JournalEntry) (*models.JournalEntry, error)
}

// SessionRepository stores refresh sessions. MarkSessionAsUsed only succeeds
// for an active session and returns ErrSessionAlreadyUsed otherwise, so at
// most one caller can consume a given session.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.RefreshSession, ttl time.Duration) error
	GetSession(ctx context.Context, selector string) (*models.RefreshSession, error)
	MarkSessionAsUsed(ctx context.Context, selector string) error
	DeleteSession(ctx context.Context, selector string) error
	DeleteAllUserSessions(ctx context.Context, userID string) error
}
