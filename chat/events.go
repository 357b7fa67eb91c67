package chat

// EventKind names a state change.
type EventKind string

const (
	EventSessionCreated  EventKind = "session_created"
	EventSessionSelected EventKind = "session_selected"
	EventMessageAppended EventKind = "message_appended"
	EventSending         EventKind = "sending"
	EventError           EventKind = "error"
	EventComposer        EventKind = "composer"
)

// Event tells subscribers that something changed. It carries no state;
// subscribers re-read the store.
type Event struct {
	Kind      EventKind `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

const subscriberBuffer = 16

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it. A subscriber that falls behind misses events instead of blocking
// writers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish fans ev out to subscribers. Collaborators that share the store use
// it for their own changes.
func (s *Store) Publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
