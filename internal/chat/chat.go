package chat

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one persisted chat conversation between a student
// and the AI tutor. The backend owns the persistent copy; the client
// holds the descriptor it was last handed.
type Session struct {
	ID           string    `json:"session_id"`
	StudentID    string    `json:"student_id"`
	Name         string    `json:"session_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// SessionSummary is the read-only projection of a session used for the
// history list. It is refreshed wholesale, never patched field by field.
type SessionSummary struct {
	ID           string    `json:"session_id" db:"id"`
	Title        string    `json:"title" db:"title"`
	LastMessage  string    `json:"last_message" db:"last_message"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	MessageCount int       `json:"message_count" db:"message_count"`
}

// Turn is one side of an exchange. Image is set on user turns only:
// either a local preview reference while a send is in flight, or the
// server-confirmed URL after reconciliation.
type Turn struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Image     string    `json:"image,omitempty"`
}

// Pair couples a user turn with the tutor turn that answers it.
// ID is a local reconciliation key, generated client-side and never
// sent over the wire.
type Pair struct {
	ID      string `json:"-"`
	User    Turn   `json:"user"`
	Chatbot Turn   `json:"chatbot"`
}

// NewPairID returns a fresh local identifier for a conversation pair.
func NewPairID() string {
	return uuid.NewString()
}

// Pending reports whether the pair is still awaiting the tutor's reply.
// An empty chatbot content is the placeholder state, never a valid reply.
func (p Pair) Pending() bool {
	return p.Chatbot.Content == ""
}
