// Package store is the repository layer shared by the preference resolver
// and the background job queue. Every upsert is idempotent under repeated
// delivery with identical keys; the queue relies on that for retries.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type Store interface {
	// UpsertSession creates the session row for key on first sight and
	// returns the current row afterwards.
	UpsertSession(ctx context.Context, key string) (Session, error)
	// TouchSession records activity on a session, optionally linking a
	// user and a completion-thread reference. Empty strings leave the
	// existing values alone.
	TouchSession(ctx context.Context, key, userID, threadRef string, seenAt time.Time) error
	FindSessionByKey(ctx context.Context, key string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	// ExpireSessionsInactiveSince soft-expires sessions not seen since the
	// cutoff and returns how many were flipped.
	ExpireSessionsInactiveSince(ctx context.Context, cutoff time.Time) (int, error)

	UserPreferences(ctx context.Context, userID string) (PreferenceRecord, error)
	SessionPreferences(ctx context.Context, sessionID string) (PreferenceRecord, error)
	UpsertUserPreferences(ctx context.Context, userID string, rec PreferenceRecord) error
	UpsertSessionPreferences(ctx context.Context, sessionID string, rec PreferenceRecord) error

	// UpsertSegments writes one batch of segments atomically, keyed by
	// (session row id, external segment id).
	UpsertSegments(ctx context.Context, segments []Segment) error
	ListSegments(ctx context.Context, sessionID string, limit int) ([]Segment, error)

	UpsertConversation(ctx context.Context, sessionID, userID, externalThreadID string) (Conversation, error)
	CreateMessage(ctx context.Context, conversationID string, role MessageRole, source MessageSource, text string) (Message, error)

	FindRecentMemory(ctx context.Context, userID, text string, since time.Time) (MemoryRecord, error)
	CreateMemory(ctx context.Context, userID, text string) (MemoryRecord, error)
	// RecentMemories returns up to limit memories, oldest first, for prompt
	// context injection.
	RecentMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error)

	// SetContextWindow points the user's single active-conversation slot
	// at the given conversation.
	SetContextWindow(ctx context.Context, userID, conversationID string) error
	ContextWindow(ctx context.Context, userID string) (string, error)

	Close() error
}

// New picks the backing store: PostgreSQL when a database URL is configured,
// an in-process store otherwise.
func New(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemory(), nil
	}
	return NewPostgres(ctx, databaseURL)
}
