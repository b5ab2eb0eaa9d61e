package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/storage"
)

type JournalRepository struct {
	db storage.DBTX
}

func NewJournalRepository(db storage.DBTX) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) GetEntry(ctx context.Context, id string) (*models.JournalEntry, error) {
	var e models.JournalEntry
	query := `SELECT id, user_id, title, body, created_at FROM journal_entries WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.UserID, &e.Title, &e.Body, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get journal entry: %w", err)
	}
	return &e, nil
}

// GetEntryOwner returns the owning user id, or "" when the entry does not exist.
func (r *JournalRepository) GetEntryOwner(ctx context.Context, id string) (string, error) {
	var owner string
	query := `SELECT user_id FROM journal_entries WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get journal entry owner: %w", err)
	}
	return owner, nil
}

func (r *JournalRepository) CreateEntry(ctx context.Context, entry models.JournalEntry) (*models.JournalEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := `INSERT INTO journal_entries (id, user_id, title, body) VALUES ($1, $2, $3, $4) RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, entry.ID, entry.UserID, entry.Title, entry.Body).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return &entry, nil
}
