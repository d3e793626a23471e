package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps sessions in a local SQLite file. It holds a single open
// connection, so writes are serialized; the handle must be closed by its owner.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the session database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session_store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			user_id         TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			created_at      TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: create schema: %w", err)
	}

	logger.Info("sqlite session store opened", "path", path)
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// GetConversationID returns the stored conversation id for userID.
func (s *SQLiteStore) GetConversationID(ctx context.Context, userID string) (string, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return "", false, errors.New("repository: GetConversationID: user id is required")
	}
	var convID string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM sessions WHERE user_id = ?`, userID,
	).Scan(&convID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: GetConversationID query: %w", err)
	}
	return convID, true, nil
}

// PutConversationID upserts the session for userID; the last write wins.
func (s *SQLiteStore) PutConversationID(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: PutConversationID: user id and conversation id are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, conversation_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET conversation_id = excluded.conversation_id`,
		userID, conversationID, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("repository: PutConversationID: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("repository: close database: %w", err)
	}
	return nil
}
