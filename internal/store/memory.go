package store

import (
	"sync"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// InMemoryStore is a simple in-memory store for tests and development.
type InMemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session        // keyed by conversation id
	responses map[string][]models.ItemResponse  // keyed by session id
	events    map[string][]models.AuditEvent    // keyed by session id
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]*models.Session),
		responses: make(map[string][]models.ItemResponse),
		events:    make(map[string][]models.AuditEvent),
	}
}

// CreateSession persists a new session.
func (s *InMemoryStore) CreateSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ConversationID]; exists {
		return models.ErrSessionExists
	}
	cloned := sess.Clone()
	s.sessions[sess.ConversationID] = &cloned
	return nil
}

// GetSession returns a copy of the session owned by the conversation.
func (s *InMemoryStore) GetSession(conversationID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	cloned := sess.Clone()
	return &cloned, nil
}

// UpdateSession applies the patch under an optimistic version check.
func (s *InMemoryStore) UpdateSession(conversationID string, patch models.SessionPatch, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return models.ErrSessionNotFound
	}
	if sess.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	if err := validatePatch(patch); err != nil {
		return err
	}
	patch.Apply(sess)
	sess.Version++
	touch(sess)
	return nil
}

// CommitTurn appends entries, applies the patch, and upserts responses as one
// unit. Everything is validated before the first mutation.
func (s *InMemoryStore) CommitTurn(conversationID string, entries []models.TranscriptEntry, patch models.SessionPatch, responses []models.ItemResponse, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return models.ErrSessionNotFound
	}
	if sess.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	if err := validatePatch(patch); err != nil {
		return err
	}

	sess.Transcript = append(sess.Transcript, entries...)
	patch.Apply(sess)
	sess.Version++
	touch(sess)

	for _, resp := range responses {
		s.upsertResponseLocked(resp)
	}
	return nil
}

// AppendTranscriptEntry appends one transcript entry and returns its index.
func (s *InMemoryStore) AppendTranscriptEntry(conversationID string, entry models.TranscriptEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return 0, models.ErrSessionNotFound
	}
	sess.Transcript = append(sess.Transcript, entry)
	touch(sess)
	return len(sess.Transcript) - 1, nil
}

// UpsertItemResponse persists a response, overwriting by (session, item).
func (s *InMemoryStore) UpsertItemResponse(resp models.ItemResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertResponseLocked(resp)
	return nil
}

func (s *InMemoryStore) upsertResponseLocked(resp models.ItemResponse) {
	list := s.responses[resp.SessionID]
	for i, existing := range list {
		if existing.ItemID == resp.ItemID {
			list[i] = resp
			return
		}
	}
	s.responses[resp.SessionID] = append(list, resp)
}

// GetItemResponses returns all responses for a session.
func (s *InMemoryStore) GetItemResponses(sessionID string) ([]models.ItemResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ItemResponse(nil), s.responses[sessionID]...), nil
}

// AddAuditEvent appends one decision log entry.
func (s *InMemoryStore) AddAuditEvent(ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.SessionID] = append(s.events[ev.SessionID], ev)
	return nil
}

// GetAuditEvents returns a session's decision log in insertion order.
func (s *InMemoryStore) GetAuditEvents(sessionID string) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEvent(nil), s.events[sessionID]...), nil
}

// ListActiveSessions returns copies of every active session.
func (s *InMemoryStore) ListActiveSessions() ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if sess.Status == models.SessionStatusActive {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
