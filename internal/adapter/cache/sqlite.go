// Package cache keeps the last known transcript of each conversation in a
// local SQLite database so a conversation can still be shown while the
// backend is unreachable.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"llama-chat/internal/domain"
)

// SQLiteTranscriptCache implements domain.TranscriptCache using SQLite.
type SQLiteTranscriptCache struct {
	db *sql.DB
}

// NewSQLiteTranscriptCache opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteTranscriptCache(dbPath string) (*SQLiteTranscriptCache, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate transcript db: %w", err)
	}
	return &SQLiteTranscriptCache{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			conversation_id TEXT PRIMARY KEY,
			messages        TEXT NOT NULL DEFAULT '[]',
			token_count     INTEGER NOT NULL DEFAULT 0,
			saved_at        TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (c *SQLiteTranscriptCache) Close() error {
	return c.db.Close()
}

// Save stores t, replacing any previous snapshot of the conversation.
func (c *SQLiteTranscriptCache) Save(ctx context.Context, t domain.Transcript) error {
	const op = "cache.Save"
	msgs := t.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrCacheStore, "marshal messages: "+err.Error())
	}
	saved := t.SavedAt
	if saved.IsZero() {
		saved = time.Now()
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO transcripts (conversation_id, messages, token_count, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			messages = excluded.messages,
			token_count = excluded.token_count,
			saved_at = excluded.saved_at`,
		t.ConversationID, string(data), t.TokenCount, saved.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrCacheStore, err.Error())
	}
	return nil
}

// Load returns the cached transcript of conversationID.
func (c *SQLiteTranscriptCache) Load(ctx context.Context, conversationID string) (*domain.Transcript, error) {
	const op = "cache.Load"
	row := c.db.QueryRowContext(ctx,
		"SELECT conversation_id, messages, token_count, saved_at FROM transcripts WHERE conversation_id = ?",
		conversationID,
	)

	var t domain.Transcript
	var msgs, saved string
	if err := row.Scan(&t.ConversationID, &msgs, &t.TokenCount, &saved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewDomainError(op, domain.ErrNotFound, conversationID)
		}
		return nil, domain.NewDomainError(op, domain.ErrCacheStore, err.Error())
	}
	if err := json.Unmarshal([]byte(msgs), &t.Messages); err != nil {
		return nil, domain.NewDomainError(op, domain.ErrCacheStore, "unmarshal messages: "+err.Error())
	}
	t.Messages = domain.Reindex(t.Messages)
	t.SavedAt, _ = time.Parse(time.RFC3339Nano, saved)
	return &t, nil
}

// Delete removes the snapshot of conversationID. Deleting a missing entry
// is not an error.
func (c *SQLiteTranscriptCache) Delete(ctx context.Context, conversationID string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM transcripts WHERE conversation_id = ?", conversationID); err != nil {
		return domain.NewDomainError("cache.Delete", domain.ErrCacheStore, err.Error())
	}
	return nil
}

var _ domain.TranscriptCache = (*SQLiteTranscriptCache)(nil)
