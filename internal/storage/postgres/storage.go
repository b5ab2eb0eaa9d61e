package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/storage"
)

type Storage struct {
	db *sql.DB
	*UserRepository
	*JournalRepository
}

func NewStorage(db *sql.DB) *Storage {
	return &Storage{
		db:                db,
		UserRepository:    NewUserRepository(db),
		JournalRepository: NewJournalRepository(db),
	}
}

// CreateEntryForUser inserts a journal entry after checking, in the same
// transaction, that its owner still exists.
func (s *Storage) CreateEntryForUser(ctx context.Context, entry models.JournalEntry) (*models.JournalEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	userRepoTx := NewUserRepository(tx)
	journalRepoTx := NewJournalRepository(tx)

	if _, err := userRepoTx.GetUserByID(ctx, entry.UserID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by id in tx: %w", err)
	}

	created, err := journalRepoTx.CreateEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry in tx: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return created, nil
}
