package store

import "time"

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
)

// Session is one device transcription stream's server-side row. Sessions are
// created lazily on first sight of a key and soft-expired, never deleted.
type Session struct {
	ID         string        `json:"id"`
	Key        string        `json:"session_key"`
	UserID     string        `json:"user_id,omitempty"`
	ThreadRef  string        `json:"thread_ref,omitempty"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	LastSeenAt time.Time     `json:"last_seen_at"`
}

// PreferenceRecord is one scope's stored activation preferences. Nil fields
// mean "unset at this scope"; resolution falls through to the next scope.
type PreferenceRecord struct {
	ListenMode        *string
	FollowUpWindowMS  *int
	Muted             *bool
	QuietStartMinute  *int
	QuietEndMinute    *int
	ActivationPattern *string
	InjectMemories    *bool
	MeetingTranscribe *bool
}

// Segment is one persisted utterance span, keyed by (session, external id).
type Segment struct {
	SessionID  string  `json:"session_id"`
	ExternalID string  `json:"segment_id"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	SpeakerID  int     `json:"speaker_id"`
	IsUser     bool    `json:"is_user"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
}

// Conversation is a logical exchange thread, upserted by (session, thread id).
type Conversation struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id,omitempty"`
	ExternalThreadID string    `json:"thread_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

type MessageSource string

const (
	SourceTranscript MessageSource = "device-transcript"
	SourceTyped      MessageSource = "typed"
	SourceSystem     MessageSource = "system"
)

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           MessageRole   `json:"role"`
	Source         MessageSource `json:"source"`
	Text           string        `json:"text"`
	CreatedAt      time.Time     `json:"created_at"`
}

// MemoryRecord is one remembered fact about a user.
type MemoryRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
