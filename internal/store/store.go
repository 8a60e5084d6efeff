// Package store owns all mutable chat state: the active session, the
// session history list, and the transcript of the active conversation.
// Nothing else in the client mutates this state; presentation code reads
// snapshots and invokes actions.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/aitutor-lab/tutorchat/internal/attachment"
	"github.com/aitutor-lab/tutorchat/internal/chat"
	"github.com/aitutor-lab/tutorchat/internal/client"
)

// Gateway is the slice of the RAG backend the store needs. Implemented
// by client.Client; faked in tests.
type Gateway interface {
	CreateSession(ctx context.Context, studentID string) (*chat.Session, error)
	SendMessage(ctx context.Context, sessionID, userInput, studentID string, img *attachment.Attachment) (*client.QueryResponse, error)
	SessionHistory(ctx context.Context, studentID string) ([]chat.SessionSummary, error)
	SessionDetail(ctx context.Context, sessionID, studentID string) (*client.SessionDetail, error)
	DeleteSession(ctx context.Context, sessionID, studentID string) error
}

type inflightSend struct {
	pairID string
	cancel context.CancelFunc
}

// Store is the chat session state machine. Sends are optimistic: the
// pair is appended before the network call and reconciled or rolled
// back by its local id once the call settles, so interleaved sends to
// the same session cannot clobber each other's pairs.
type Store struct {
	gateway Gateway

	mu           sync.Mutex
	current      *chat.Session
	history      []chat.SessionSummary
	conversation []chat.Pair
	loading      bool
	sending      bool
	lastErr      error
	inflight     map[string][]inflightSend

	subMu       sync.Mutex
	subscribers []func()
}

func New(gateway Gateway) *Store {
	return &Store{
		gateway:  gateway,
		inflight: make(map[string][]inflightSend),
	}
}

// Subscribe registers a callback invoked after every state change.
// Callbacks run on the mutating goroutine and must not call back into
// the store's actions.
func (s *Store) Subscribe(fn func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) notify() {
	s.subMu.Lock()
	subs := make([]func(), len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// CreateSession opens a new conversation and makes it current, clearing
// the transcript. On failure the previous state is left untouched apart
// from the recorded error, which is also returned for the caller to
// surface.
func (s *Store) CreateSession(ctx context.Context, userID string) (*chat.Session, error) {
	s.setLoading(true)

	session, err := s.gateway.CreateSession(ctx, userID)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.notify()
		return nil, err
	}
	s.current = session
	s.conversation = nil
	s.mu.Unlock()
	s.notify()
	return session, nil
}

// SendMessage runs the optimistic send protocol for one user turn.
//
// The pair is appended immediately with an empty tutor turn, then the
// gateway call is made; on success the pair is replaced in place with
// the server's canonical echo and the reply, on failure it is removed
// again. Either way the transcript never keeps a stuck placeholder.
func (s *Store) SendMessage(ctx context.Context, sessionID, userInput, studentID string, img *attachment.Attachment) error {
	var preview *attachment.Preview
	if img != nil {
		p, err := img.NewPreview()
		if err != nil {
			s.recordError(err)
			return err
		}
		preview = p
	}

	pairID := chat.NewPairID()
	now := time.Now()
	pair := chat.Pair{
		ID:      pairID,
		User:    chat.Turn{Content: userInput, Timestamp: now, Image: previewRef(preview)},
		Chatbot: chat.Turn{Timestamp: now},
	}

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.sending = true
	s.lastErr = nil
	s.conversation = append(s.conversation, pair)
	s.inflight[sessionID] = append(s.inflight[sessionID], inflightSend{pairID: pairID, cancel: cancel})
	s.mu.Unlock()
	s.notify()

	resp, err := s.gateway.SendMessage(sendCtx, sessionID, userInput, studentID, img)

	s.mu.Lock()
	s.sending = false
	s.clearInflight(sessionID, pairID)

	if err != nil {
		s.removePair(pairID)
		s.lastErr = err
		s.mu.Unlock()
		preview.Release()
		s.notify()
		return err
	}

	content, imageURL := chat.ParseUserInput(resp.UserInput)
	image := imageURL
	if image == "" {
		// The backend omitted the URL; keep showing the local
		// preview rather than regressing to no image.
		image = previewRef(preview)
	}
	now = time.Now()
	settled := chat.Pair{
		ID:      pairID,
		User:    chat.Turn{Content: content, Timestamp: now, Image: image},
		Chatbot: chat.Turn{Content: resp.Response, Timestamp: now},
	}
	replaced := s.replacePair(pairID, settled)

	if s.current != nil && s.current.ID == sessionID {
		s.current.MessageCount++
		s.current.UpdatedAt = now
	}
	s.mu.Unlock()

	if imageURL != "" || !replaced {
		// Superseded by the server URL, or the transcript moved on
		// underneath us; either way nothing shows the preview now.
		preview.Release()
	}
	s.notify()
	return nil
}

// SessionHistory fetches the student's session list and replaces the
// stored one wholesale. An empty result is valid and clears the list.
func (s *Store) SessionHistory(ctx context.Context, studentID string) ([]chat.SessionSummary, error) {
	s.setLoading(true)

	summaries, err := s.gateway.SessionHistory(ctx, studentID)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.history = nil
		s.mu.Unlock()
		s.notify()
		return nil, err
	}
	s.history = summaries
	s.mu.Unlock()
	s.notify()
	return summaries, nil
}

// SessionDetail fetches one session's transcript and replaces the
// stored conversation wholesale, splitting markdown-embedded image
// tokens out of every historical user turn on the way in.
func (s *Store) SessionDetail(ctx context.Context, sessionID, studentID string) (*client.SessionDetail, error) {
	s.setLoading(true)

	detail, err := s.gateway.SessionDetail(ctx, sessionID, studentID)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		s.conversation = nil
		s.mu.Unlock()
		s.notify()
		return nil, err
	}

	conversation := make([]chat.Pair, 0, len(detail.Conversation))
	for _, pair := range detail.Conversation {
		content, imageURL := chat.ParseUserInput(pair.User.Content)
		pair.ID = chat.NewPairID()
		pair.User.Content = content
		pair.User.Image = imageURL
		conversation = append(conversation, pair)
	}
	s.current = &detail.Session
	s.conversation = conversation
	s.mu.Unlock()
	s.notify()
	return detail, nil
}

// DeleteSession deletes the session server-side, cancelling any send
// still in flight for it first. It does not touch the cached history
// list or the current-session selection; callers own both of those and
// must update them separately.
func (s *Store) DeleteSession(ctx context.Context, sessionID, studentID string) error {
	s.mu.Lock()
	sends := s.inflight[sessionID]
	delete(s.inflight, sessionID)
	s.loading = true
	s.lastErr = nil
	s.mu.Unlock()
	for _, send := range sends {
		send.cancel()
	}
	s.notify()

	err := s.gateway.DeleteSession(ctx, sessionID, studentID)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// CurrentSession returns a copy of the active session descriptor, or
// nil when no session is selected.
func (s *Store) CurrentSession() *chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	session := *s.current
	return &session
}

// History returns a copy of the cached session list.
func (s *Store) History() []chat.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]chat.SessionSummary, len(s.history))
	copy(history, s.history)
	return history
}

// Conversation returns a copy of the active transcript.
func (s *Store) Conversation() []chat.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation := make([]chat.Pair, len(s.conversation))
	copy(conversation, s.conversation)
	return conversation
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Err returns the last recorded gateway failure, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetCurrentSession makes the given session current without touching
// the transcript. Pass nil to deselect.
func (s *Store) SetCurrentSession(session *chat.Session) {
	s.mu.Lock()
	s.current = session
	s.mu.Unlock()
	s.notify()
}

// ClearCurrentSession deselects the active session and drops its
// transcript.
func (s *Store) ClearCurrentSession() {
	s.mu.Lock()
	s.current = nil
	s.conversation = nil
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

// ClearAll resets the store to its initial state.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.current = nil
	s.history = nil
	s.conversation = nil
	s.loading = false
	s.sending = false
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.notify()
}

// replacePair swaps the pair with the given local id for its settled
// form. Reports false when the pair is gone, e.g. the transcript was
// replaced by a detail fetch while the send was in flight.
func (s *Store) replacePair(pairID string, settled chat.Pair) bool {
	for i := range s.conversation {
		if s.conversation[i].ID == pairID {
			s.conversation[i] = settled
			return true
		}
	}
	return false
}

func (s *Store) removePair(pairID string) bool {
	for i := range s.conversation {
		if s.conversation[i].ID == pairID {
			s.conversation = append(s.conversation[:i], s.conversation[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) clearInflight(sessionID, pairID string) {
	sends := s.inflight[sessionID]
	for i := range sends {
		if sends[i].pairID == pairID {
			s.inflight[sessionID] = append(sends[:i], sends[i+1:]...)
			break
		}
	}
	if len(s.inflight[sessionID]) == 0 {
		delete(s.inflight, sessionID)
	}
}

func previewRef(p *attachment.Preview) string {
	if p == nil {
		return ""
	}
	return p.Ref()
}
