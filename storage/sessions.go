package storage

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/aitutor-lab/tutorchat/internal/chat"
)

// Sessions is the cache of session summaries per student
type Sessions struct {
	db *sqlx.DB
}

// NewSessions creates a new Sessions cache
func NewSessions(db *sqlx.DB) (*Sessions, error) {
	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		title TEXT NOT NULL,
		last_message TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)
	`
	if _, err := db.Exec(createSessionsTable); err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	return &Sessions{db: db}, nil
}

// ReadByStudentID returns the cached summaries for a student, most
// recently updated first
func (s *Sessions) ReadByStudentID(studentID string) ([]chat.SessionSummary, error) {
	var sessions []chat.SessionSummary
	err := s.db.Select(&sessions,
		"SELECT id, title, last_message, message_count, updated_at FROM sessions WHERE student_id = ? ORDER BY updated_at DESC",
		studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions for student_id %s: %w", studentID, err)
	}

	slog.Debug("read cached sessions",
		slog.String("student_id", studentID),
		slog.Int("count", len(sessions)),
	)
	return sessions, nil
}

// Replace replaces the student's cached summaries wholesale with a
// freshly fetched list
func (s *Sessions) Replace(studentID string, sessions []chat.SessionSummary) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin sessions replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions WHERE student_id = ?", studentID); err != nil {
		return fmt.Errorf("failed to clear sessions for student_id %s: %w", studentID, err)
	}

	insertQuery := "INSERT INTO sessions (id, student_id, title, last_message, message_count, updated_at) VALUES (?, ?, ?, ?, ?, ?)"
	for _, session := range sessions {
		if _, err := tx.Exec(insertQuery,
			session.ID, studentID, session.Title, session.LastMessage, session.MessageCount, session.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert session %+v: %w", session, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sessions replace: %w", err)
	}

	slog.Debug("replaced cached sessions",
		slog.String("student_id", studentID),
		slog.Int("count", len(sessions)),
	)
	return nil
}

// Delete deletes the given session by id from the cache
func (s *Sessions) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session by id %s: %w", id, err)
	}

	slog.Debug("session deleted from cache",
		slog.String("id", id),
	)
	return nil
}
