package chat

import "fmt"

// MaxSessions bounds the number of live sessions in a store.
const MaxSessions = 5

// Session is one conversation bound to one model for its lifetime.
type Session struct {
	ID       string
	Ordinal  int
	Title    string
	ModelID  string
	Messages []Message
}

// SessionRef identifies a session without its transcript.
type SessionRef struct {
	ID      string
	Ordinal int
	Title   string
	ModelID string
}

func (s *Session) ref() SessionRef {
	return SessionRef{ID: s.ID, Ordinal: s.Ordinal, Title: s.Title, ModelID: s.ModelID}
}

// clone copies the message slice; messages themselves are never modified
// after append so sharing them is safe.
func (s *Session) clone() Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return cp
}

func titleFor(ordinal int) string {
	return fmt.Sprintf("Chat %d", ordinal)
}
