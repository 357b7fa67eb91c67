// Package chat owns the chat sessions of one client and their transcripts.
package chat

import (
	"fmt"
	"sync"
	"time"

	apperrors "multichat/errors"

	"github.com/google/uuid"
)

var (
	// ErrLimitReached is returned when MaxSessions already exist.
	ErrLimitReached = apperrors.WithKind(apperrors.ErrPrecondition, fmt.Sprintf("You can open at most %d chats.", MaxSessions))

	// ErrSessionNotFound is returned for ids the store never issued.
	ErrSessionNotFound = apperrors.WithKind(apperrors.ErrNotFound, "Chat not found.")
)

// Store is the single writer of session and message state. Every operation is
// atomic with respect to the others and never waits on I/O.
type Store struct {
	mu       sync.RWMutex
	sessions []*Session
	byID     map[string]*Session
	activeID string
	now      func() time.Time

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byID:        make(map[string]*Session),
		now:         time.Now,
		subscribers: make(map[int]chan Event),
	}
}

// CreateSession appends a new session bound to modelID and makes it active.
func (s *Store) CreateSession(modelID string) (SessionRef, error) {
	s.mu.Lock()
	if len(s.sessions) >= MaxSessions {
		s.mu.Unlock()
		return SessionRef{}, ErrLimitReached
	}

	ordinal := len(s.sessions) + 1
	session := &Session{
		ID:      uuid.NewString(),
		Ordinal: ordinal,
		Title:   titleFor(ordinal),
		ModelID: modelID,
	}
	s.sessions = append(s.sessions, session)
	s.byID[session.ID] = session
	s.activeID = session.ID
	ref := session.ref()
	s.mu.Unlock()

	s.Publish(Event{Kind: EventSessionCreated, SessionID: ref.ID})
	return ref, nil
}

// SelectSession moves the active pointer. Transcripts are untouched.
func (s *Store) SelectSession(id string) error {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	changed := s.activeID != id
	s.activeID = id
	s.mu.Unlock()

	if changed {
		s.Publish(Event{Kind: EventSessionSelected, SessionID: id})
	}
	return nil
}

// AppendMessage appends msg to the session named by id, whichever session is
// active. The stored copy gets a fresh id and timestamp.
func (s *Store) AppendMessage(id string, msg Message) error {
	if msg == nil {
		return apperrors.WrapError(apperrors.ErrInvalidInput, "append nil message")
	}

	s.mu.Lock()
	session, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	at := s.now()
	if n := len(session.Messages); n > 0 {
		// keep timestamps monotonic even if the wall clock steps back
		if last := session.Messages[n-1].Meta().AppendedAt; at.Before(last) {
			at = last
		}
	}
	stored := msg.withMeta(MessageMeta{ID: uuid.NewString(), AppendedAt: at})
	session.Messages = append(session.Messages, stored)
	s.mu.Unlock()

	s.Publish(Event{Kind: EventMessageAppended, SessionID: id})
	return nil
}

// Active returns the active session, if any.
func (s *Store) Active() (SessionRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[s.activeID]
	if !ok {
		return SessionRef{}, false
	}
	return session.ref(), true
}

// ActiveID returns the active session id or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Session returns a copy of one session.
func (s *Store) Session(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[id]
	if !ok {
		return Session{}, false
	}
	return session.clone(), true
}

// Sessions returns copies of all sessions in creation order.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, len(s.sessions))
	for i, session := range s.sessions {
		out[i] = session.clone()
	}
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
