package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres persists sessions, transcripts, conversations, and memories in
// PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL DEFAULT '',
			thread_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions (status, last_seen_at);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			scope TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			listen_mode TEXT NULL,
			follow_up_window_ms INTEGER NULL,
			muted BOOLEAN NULL,
			quiet_start_minute INTEGER NULL,
			quiet_end_minute INTEGER NULL,
			activation_pattern TEXT NULL,
			inject_memories BOOLEAN NULL,
			meeting_transcribe BOOLEAN NULL,
			PRIMARY KEY (scope, scope_id)
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_segments (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			external_id TEXT NOT NULL,
			text TEXT NOT NULL,
			speaker TEXT NOT NULL DEFAULT '',
			speaker_id INTEGER NOT NULL DEFAULT 0,
			is_user BOOLEAN NOT NULL DEFAULT FALSE,
			start_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			end_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, external_id)
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			user_id TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, thread_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS context_windows (
			user_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Postgres) UpsertSession(ctx context.Context, key string) (Session, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, session_key, status, created_at, last_seen_at)
		 VALUES ($1, $2, 'active', $3, $3)
		 ON CONFLICT (session_key) DO UPDATE SET session_key = EXCLUDED.session_key
		 RETURNING id, session_key, user_id, thread_ref, status, created_at, last_seen_at`,
		uuid.NewString(), key, now,
	)
	return scanSession(row)
}

func (s *Postgres) TouchSession(ctx context.Context, key, userID, threadRef string, seenAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET
			user_id = CASE WHEN $2 = '' THEN user_id ELSE $2 END,
			thread_ref = CASE WHEN $3 = '' THEN thread_ref ELSE $3 END,
			status = 'active',
			last_seen_at = $4
		 WHERE session_key = $1`,
		key, userID, threadRef, seenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) FindSessionByKey(ctx context.Context, key string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_key, user_id, thread_ref, status, created_at, last_seen_at
		 FROM sessions WHERE session_key = $1`, key)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func (s *Postgres) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_key, user_id, thread_ref, status, created_at, last_seen_at
		 FROM sessions ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Postgres) ExpireSessionsInactiveSince(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = 'expired' WHERE status = 'active' AND last_seen_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) UserPreferences(ctx context.Context, userID string) (PreferenceRecord, error) {
	return s.preferences(ctx, "user", userID)
}

func (s *Postgres) SessionPreferences(ctx context.Context, sessionID string) (PreferenceRecord, error) {
	return s.preferences(ctx, "session", sessionID)
}

func (s *Postgres) preferences(ctx context.Context, scope, scopeID string) (PreferenceRecord, error) {
	var rec PreferenceRecord
	err := s.pool.QueryRow(ctx,
		`SELECT listen_mode, follow_up_window_ms, muted, quiet_start_minute,
			quiet_end_minute, activation_pattern, inject_memories, meeting_transcribe
		 FROM preferences WHERE scope = $1 AND scope_id = $2`,
		scope, scopeID,
	).Scan(&rec.ListenMode, &rec.FollowUpWindowMS, &rec.Muted, &rec.QuietStartMinute,
		&rec.QuietEndMinute, &rec.ActivationPattern, &rec.InjectMemories, &rec.MeetingTranscribe)
	if errors.Is(err, pgx.ErrNoRows) {
		return PreferenceRecord{}, nil
	}
	if err != nil {
		return PreferenceRecord{}, fmt.Errorf("load %s preferences: %w", scope, err)
	}
	return rec, nil
}

func (s *Postgres) UpsertUserPreferences(ctx context.Context, userID string, rec PreferenceRecord) error {
	return s.upsertPreferences(ctx, "user", userID, rec)
}

func (s *Postgres) UpsertSessionPreferences(ctx context.Context, sessionID string, rec PreferenceRecord) error {
	return s.upsertPreferences(ctx, "session", sessionID, rec)
}

func (s *Postgres) upsertPreferences(ctx context.Context, scope, scopeID string, rec PreferenceRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preferences (scope, scope_id, listen_mode, follow_up_window_ms, muted,
			quiet_start_minute, quiet_end_minute, activation_pattern, inject_memories, meeting_transcribe)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (scope, scope_id) DO UPDATE SET
			listen_mode = EXCLUDED.listen_mode,
			follow_up_window_ms = EXCLUDED.follow_up_window_ms,
			muted = EXCLUDED.muted,
			quiet_start_minute = EXCLUDED.quiet_start_minute,
			quiet_end_minute = EXCLUDED.quiet_end_minute,
			activation_pattern = EXCLUDED.activation_pattern,
			inject_memories = EXCLUDED.inject_memories,
			meeting_transcribe = EXCLUDED.meeting_transcribe`,
		scope, scopeID, rec.ListenMode, rec.FollowUpWindowMS, rec.Muted,
		rec.QuietStartMinute, rec.QuietEndMinute, rec.ActivationPattern,
		rec.InjectMemories, rec.MeetingTranscribe,
	)
	if err != nil {
		return fmt.Errorf("upsert %s preferences: %w", scope, err)
	}
	return nil
}

// UpsertSegments writes the whole batch inside one transaction so a retried
// job either lands completely or not at all.
func (s *Postgres) UpsertSegments(ctx context.Context, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin segments tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, seg := range segments {
		_, err := tx.Exec(ctx,
			`INSERT INTO transcript_segments (session_id, external_id, text, speaker, speaker_id, is_user, start_sec, end_sec)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (session_id, external_id) DO UPDATE SET
				text = EXCLUDED.text,
				speaker = EXCLUDED.speaker,
				speaker_id = EXCLUDED.speaker_id,
				is_user = EXCLUDED.is_user,
				start_sec = EXCLUDED.start_sec,
				end_sec = EXCLUDED.end_sec`,
			seg.SessionID, seg.ExternalID, seg.Text, seg.Speaker, seg.SpeakerID,
			seg.IsUser, seg.StartSec, seg.EndSec,
		)
		if err != nil {
			return fmt.Errorf("upsert segment %s: %w", seg.ExternalID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ListSegments(ctx context.Context, sessionID string, limit int) ([]Segment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, external_id, text, speaker, speaker_id, is_user, start_sec, end_sec
		 FROM transcript_segments WHERE session_id = $1 ORDER BY start_sec ASC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.SessionID, &seg.ExternalID, &seg.Text, &seg.Speaker,
			&seg.SpeakerID, &seg.IsUser, &seg.StartSec, &seg.EndSec); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertConversation(ctx context.Context, sessionID, userID, externalThreadID string) (Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, session_id, user_id, thread_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, thread_id) DO UPDATE SET
			user_id = CASE WHEN conversations.user_id = '' THEN EXCLUDED.user_id ELSE conversations.user_id END
		 RETURNING id, session_id, user_id, thread_id, created_at`,
		uuid.NewString(), sessionID, userID, externalThreadID, time.Now().UTC(),
	).Scan(&conv.ID, &conv.SessionID, &conv.UserID, &conv.ExternalThreadID, &conv.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}
	return conv, nil
}

func (s *Postgres) CreateMessage(ctx context.Context, conversationID string, role MessageRole, source MessageSource, text string) (Message, error) {
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Source:         source,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, source, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Source, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func (s *Postgres) FindRecentMemory(ctx context.Context, userID, text string, since time.Time) (MemoryRecord, error) {
	var m MemoryRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, text, created_at FROM memories
		 WHERE user_id = $1 AND text = $2 AND created_at >= $3
		 ORDER BY created_at DESC LIMIT 1`,
		userID, text, since.UTC(),
	).Scan(&m.ID, &m.UserID, &m.Text, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MemoryRecord{}, ErrNotFound
	}
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("find recent memory: %w", err)
	}
	return m, nil
}

func (s *Postgres) CreateMemory(ctx context.Context, userID, text string) (MemoryRecord, error) {
	m := MemoryRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (id, user_id, text, created_at) VALUES ($1, $2, $3, $4)`,
		m.ID, m.UserID, m.Text, m.CreatedAt,
	)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("create memory: %w", err)
	}
	return m, nil
}

func (s *Postgres) RecentMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, text, created_at FROM memories
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var m MemoryRecord
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Postgres) SetContextWindow(ctx context.Context, userID, conversationID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO context_windows (user_id, conversation_id, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			updated_at = EXCLUDED.updated_at`,
		userID, conversationID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set context window: %w", err)
	}
	return nil
}

func (s *Postgres) ContextWindow(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id FROM context_windows WHERE user_id = $1`, userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load context window: %w", err)
	}
	return id, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.Key, &sess.UserID, &sess.ThreadRef,
		&sess.Status, &sess.CreatedAt, &sess.LastSeenAt)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}
