// Package jobs turns request-path side effects into asynchronously retried,
// batched, bounded-concurrency background work. The queue is in-memory only:
// a crash loses pending jobs and retry counters. Every handler must be
// idempotent, since the queue redelivers on retry.
package jobs

import "time"

type Type string

const (
	TypeMemorySave          Type = "MEMORY_SAVE"
	TypeSessionUpdate       Type = "SESSION_UPDATE"
	TypeTranscriptBatch     Type = "TRANSCRIPT_BATCH"
	TypeConversationSave    Type = "CONVERSATION_SAVE"
	TypeContextWindowUpdate Type = "CONTEXT_WINDOW_UPDATE"
)

// Job is one background unit of work. The retry counter lives in process and
// dies with it.
type Job struct {
	ID         string
	Type       Type
	Payload    any
	EnqueuedAt time.Time

	retries int
}

type SessionUpdatePayload struct {
	SessionKey string
	UserID     string
	ThreadRef  string
	SeenAt     time.Time
}

type SegmentPayload struct {
	ExternalID string
	Text       string
	Speaker    string
	SpeakerID  int
	IsUser     bool
	StartSec   float64
	EndSec     float64
}

type TranscriptBatchPayload struct {
	SessionKey string
	Segments   []SegmentPayload
}

type MessagePayload struct {
	Role   string
	Source string
	Text   string
}

type ConversationSavePayload struct {
	SessionKey string
	UserID     string
	ThreadID   string
	Messages   []MessagePayload
}

type MemorySavePayload struct {
	UserID string
	Text   string
}

type ContextWindowPayload struct {
	SessionKey string
	UserID     string
	ThreadID   string
}
