package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chatforge/backend/internal/tools"
)

// JournalStore implements tools.JournalStore over the journal_entries
// table, so the journal tool's notes survive process restarts just like
// every other piece of conversation state (spec.md §4.7).
type JournalStore struct {
	db *sql.DB
}

// NewJournalStore wraps db as a tools.JournalStore.
func NewJournalStore(db *sql.DB) *JournalStore {
	return &JournalStore{db: db}
}

func (s *JournalStore) Get(ctx context.Context, userID, key string) (tools.JournalEntry, bool, error) {
	var entry tools.JournalEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, key, value, updated_at FROM journal_entries WHERE user_id = $1 AND key = $2
	`, userID, key).Scan(&entry.UserID, &entry.Key, &entry.Value, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return tools.JournalEntry{}, false, nil
	}
	if err != nil {
		return tools.JournalEntry{}, false, fmt.Errorf("get journal entry: %w", err)
	}
	return entry, true, nil
}

func (s *JournalStore) Set(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("set journal entry: %w", err)
	}
	return nil
}

func (s *JournalStore) Delete(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM journal_entries WHERE user_id = $1 AND key = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	return nil
}

func (s *JournalStore) List(ctx context.Context, userID string) ([]tools.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, key, value, updated_at FROM journal_entries WHERE user_id = $1 ORDER BY key
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []tools.JournalEntry
	for rows.Next() {
		var e tools.JournalEntry
		if err := rows.Scan(&e.UserID, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
