package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aitutor-lab/tutorchat/internal/chat"
)

// Pairs is the cache of settled conversation pairs per session
type Pairs struct {
	db *sqlx.DB
}

// pairRow is the flattened sqlite shape of a chat.Pair
type pairRow struct {
	SessionID   string    `db:"session_id"`
	Position    int       `db:"position"`
	UserContent string    `db:"user_content"`
	UserImage   string    `db:"user_image"`
	UserTS      time.Time `db:"user_ts"`
	BotContent  string    `db:"bot_content"`
	BotTS       time.Time `db:"bot_ts"`
}

// NewPairs creates a new Pairs cache
func NewPairs(db *sqlx.DB) (*Pairs, error) {
	createPairsTable := `
	CREATE TABLE IF NOT EXISTS pairs (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		user_content TEXT NOT NULL,
		user_image TEXT NOT NULL DEFAULT '',
		user_ts DATETIME NOT NULL,
		bot_content TEXT NOT NULL,
		bot_ts DATETIME NOT NULL,
		PRIMARY KEY (session_id, position)
	)
	`
	if _, err := db.Exec(createPairsTable); err != nil {
		return nil, fmt.Errorf("failed to create pairs table: %w", err)
	}

	return &Pairs{db: db}, nil
}

// ReadBySessionID returns the cached transcript for a session in
// insertion order
func (p *Pairs) ReadBySessionID(sessionID string) ([]chat.Pair, error) {
	var rows []pairRow
	err := p.db.Select(&rows,
		"SELECT session_id, position, user_content, user_image, user_ts, bot_content, bot_ts FROM pairs WHERE session_id = ? ORDER BY position ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pairs for session_id %s: %w", sessionID, err)
	}

	pairs := make([]chat.Pair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, chat.Pair{
			ID:      chat.NewPairID(),
			User:    chat.Turn{Content: row.UserContent, Timestamp: row.UserTS, Image: row.UserImage},
			Chatbot: chat.Turn{Content: row.BotContent, Timestamp: row.BotTS},
		})
	}

	slog.Debug("read cached pairs",
		slog.String("session_id", sessionID),
		slog.Int("count", len(pairs)),
	)
	return pairs, nil
}

// Replace replaces the session's cached transcript wholesale. Pending
// pairs are skipped: only settled exchanges are worth keeping.
func (p *Pairs) Replace(sessionID string, pairs []chat.Pair) error {
	tx, err := p.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin pairs replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM pairs WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear pairs for session_id %s: %w", sessionID, err)
	}

	insertQuery := "INSERT INTO pairs (session_id, position, user_content, user_image, user_ts, bot_content, bot_ts) VALUES (?, ?, ?, ?, ?, ?, ?)"
	position := 0
	for _, pair := range pairs {
		if pair.Pending() {
			continue
		}
		if _, err := tx.Exec(insertQuery,
			sessionID, position, pair.User.Content, pair.User.Image, pair.User.Timestamp,
			pair.Chatbot.Content, pair.Chatbot.Timestamp); err != nil {
			return fmt.Errorf("failed to insert pair at position %d: %w", position, err)
		}
		position++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pairs replace: %w", err)
	}

	slog.Debug("replaced cached pairs",
		slog.String("session_id", sessionID),
		slog.Int("count", position),
	)
	return nil
}

// DeleteBySessionID drops the cached transcript for a deleted session
func (p *Pairs) DeleteBySessionID(sessionID string) error {
	if _, err := p.db.Exec("DELETE FROM pairs WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete pairs for session_id %s: %w", sessionID, err)
	}

	slog.Debug("pairs deleted from cache",
		slog.String("session_id", sessionID),
	)
	return nil
}
