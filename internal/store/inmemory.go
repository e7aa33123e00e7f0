package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory keeps everything in process. It backs local development without a
// database and doubles as the test store; semantics mirror Postgres.
type InMemory struct {
	mu            sync.Mutex
	sessions      map[string]*Session // by key
	userPrefs     map[string]PreferenceRecord
	sessionPrefs  map[string]PreferenceRecord
	segments      map[string]map[string]Segment // session id -> external id
	conversations map[string]*Conversation      // session id + thread id
	messages      map[string][]Message          // conversation id
	memories      map[string][]MemoryRecord     // user id
	windows       map[string]string             // user id -> conversation id
}

func NewInMemory() *InMemory {
	return &InMemory{
		sessions:      make(map[string]*Session),
		userPrefs:     make(map[string]PreferenceRecord),
		sessionPrefs:  make(map[string]PreferenceRecord),
		segments:      make(map[string]map[string]Segment),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		memories:      make(map[string][]MemoryRecord),
		windows:       make(map[string]string),
	}
}

func (s *InMemory) UpsertSession(_ context.Context, key string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[key]; ok {
		return *existing, nil
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.NewString(),
		Key:        key,
		Status:     SessionActive,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	s.sessions[key] = sess
	return *sess, nil
}

func (s *InMemory) TouchSession(_ context.Context, key, userID, threadRef string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}
	if userID != "" {
		sess.UserID = userID
	}
	if threadRef != "" {
		sess.ThreadRef = threadRef
	}
	sess.Status = SessionActive
	sess.LastSeenAt = seenAt.UTC()
	return nil
}

func (s *InMemory) FindSessionByKey(_ context.Context, key string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *InMemory) ListSessions(_ context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (s *InMemory) ExpireSessionsInactiveSince(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status == SessionActive && sess.LastSeenAt.Before(cutoff) {
			sess.Status = SessionExpired
			n++
		}
	}
	return n, nil
}

func (s *InMemory) UserPreferences(_ context.Context, userID string) (PreferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userPrefs[userID], nil
}

func (s *InMemory) SessionPreferences(_ context.Context, sessionID string) (PreferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionPrefs[sessionID], nil
}

func (s *InMemory) UpsertUserPreferences(_ context.Context, userID string, rec PreferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userPrefs[userID] = rec
	return nil
}

func (s *InMemory) UpsertSessionPreferences(_ context.Context, sessionID string, rec PreferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionPrefs[sessionID] = rec
	return nil
}

func (s *InMemory) UpsertSegments(_ context.Context, segments []Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range segments {
		bySession, ok := s.segments[seg.SessionID]
		if !ok {
			bySession = make(map[string]Segment)
			s.segments[seg.SessionID] = bySession
		}
		bySession[seg.ExternalID] = seg
	}
	return nil
}

func (s *InMemory) ListSegments(_ context.Context, sessionID string, limit int) ([]Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, 0, len(s.segments[sessionID]))
	for _, seg := range s.segments[sessionID] {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) UpsertConversation(_ context.Context, sessionID, userID, externalThreadID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionID + "\x00" + externalThreadID
	if existing, ok := s.conversations[key]; ok {
		if userID != "" && existing.UserID == "" {
			existing.UserID = userID
		}
		return *existing, nil
	}
	conv := &Conversation{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		UserID:           userID,
		ExternalThreadID: externalThreadID,
		CreatedAt:        time.Now().UTC(),
	}
	s.conversations[key] = conv
	return *conv, nil
}

func (s *InMemory) CreateMessage(_ context.Context, conversationID string, role MessageRole, source MessageSource, text string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Source:         source,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

func (s *InMemory) FindRecentMemory(_ context.Context, userID, text string, since time.Time) (MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memories[userID] {
		if m.Text == text && !m.CreatedAt.Before(since) {
			return m, nil
		}
	}
	return MemoryRecord{}, ErrNotFound
}

func (s *InMemory) CreateMemory(_ context.Context, userID, text string) (MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := MemoryRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	s.memories[userID] = append(s.memories[userID], m)
	return m, nil
}

func (s *InMemory) RecentMemories(_ context.Context, userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.memories[userID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]MemoryRecord, len(all))
	copy(out, all)
	return out, nil
}

// MemoryCount reports how many memory rows a user has. Test helper.
func (s *InMemory) MemoryCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories[userID])
}

func (s *InMemory) SetContextWindow(_ context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[userID] = conversationID
	return nil
}

func (s *InMemory) ContextWindow(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.windows[userID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *InMemory) Close() error { return nil }
