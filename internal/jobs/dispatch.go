package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidems/murmur/internal/store"
)

const (
	// memoryDedupeWindow is how far back an identical memory text blocks a
	// new insert. Matching is exact on purpose; fuzzy matching here is not
	// wanted.
	memoryDedupeWindow = 12 * time.Hour
	// segmentSubChunk bounds how many segment rows share one transaction.
	segmentSubChunk = 25
)

// Dispatcher routes jobs by type to idempotent repository operations.
type Dispatcher struct {
	store store.Store
	log   zerolog.Logger
}

func NewDispatcher(st store.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store: st,
		log:   log.With().Str("component", "dispatch").Logger(),
	}
}

func (d *Dispatcher) Handle(ctx context.Context, job Job) error {
	switch job.Type {
	case TypeSessionUpdate:
		return d.sessionUpdate(ctx, job)
	case TypeTranscriptBatch:
		return d.transcriptBatch(ctx, job)
	case TypeConversationSave:
		return d.conversationSave(ctx, job)
	case TypeMemorySave:
		return d.memorySave(ctx, job)
	case TypeContextWindowUpdate:
		return d.contextWindowUpdate(ctx, job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (d *Dispatcher) sessionUpdate(ctx context.Context, job Job) error {
	p, ok := job.Payload.(SessionUpdatePayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", job.Type)
	}
	if _, err := d.store.UpsertSession(ctx, p.SessionKey); err != nil {
		return err
	}
	seen := p.SeenAt
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	return d.store.TouchSession(ctx, p.SessionKey, p.UserID, p.ThreadRef, seen)
}

func (d *Dispatcher) transcriptBatch(ctx context.Context, job Job) error {
	p, ok := job.Payload.(TranscriptBatchPayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", job.Type)
	}
	sess, err := d.store.UpsertSession(ctx, p.SessionKey)
	if err != nil {
		return err
	}

	rows := make([]store.Segment, 0, len(p.Segments))
	for _, seg := range p.Segments {
		externalID := seg.ExternalID
		if externalID == "" {
			externalID = fallbackSegmentID(seg)
		}
		rows = append(rows, store.Segment{
			SessionID:  sess.ID,
			ExternalID: externalID,
			Text:       seg.Text,
			Speaker:    seg.Speaker,
			SpeakerID:  seg.SpeakerID,
			IsUser:     seg.IsUser,
			StartSec:   seg.StartSec,
			EndSec:     seg.EndSec,
		})
	}

	// One transaction per sub-chunk keeps lock scope bounded on big batches.
	for start := 0; start < len(rows); start += segmentSubChunk {
		end := start + segmentSubChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := d.store.UpsertSegments(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) conversationSave(ctx context.Context, job Job) error {
	p, ok := job.Payload.(ConversationSavePayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", job.Type)
	}
	sess, err := d.store.UpsertSession(ctx, p.SessionKey)
	if err != nil {
		return err
	}
	conv, err := d.store.UpsertConversation(ctx, sess.ID, p.UserID, p.ThreadID)
	if err != nil {
		return err
	}
	for _, msg := range p.Messages {
		if _, err := d.store.CreateMessage(ctx, conv.ID,
			store.MessageRole(msg.Role), store.MessageSource(msg.Source), msg.Text); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) memorySave(ctx context.Context, job Job) error {
	p, ok := job.Payload.(MemorySavePayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", job.Type)
	}
	since := time.Now().Add(-memoryDedupeWindow)
	_, err := d.store.FindRecentMemory(ctx, p.UserID, p.Text, since)
	if err == nil {
		// Same text in the window: a retried or redundant delivery.
		d.log.Debug().Str("user_id", p.UserID).Msg("duplicate memory skipped")
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = d.store.CreateMemory(ctx, p.UserID, p.Text)
	return err
}

func (d *Dispatcher) contextWindowUpdate(ctx context.Context, job Job) error {
	p, ok := job.Payload.(ContextWindowPayload)
	if !ok {
		return fmt.Errorf("bad payload for %s", job.Type)
	}
	sess, err := d.store.UpsertSession(ctx, p.SessionKey)
	if err != nil {
		return err
	}
	conv, err := d.store.UpsertConversation(ctx, sess.ID, p.UserID, p.ThreadID)
	if err != nil {
		return err
	}
	return d.store.SetContextWindow(ctx, p.UserID, conv.ID)
}

// fallbackSegmentID derives a stable id from segment content so redelivered
// id-less segments still upsert instead of duplicating.
func fallbackSegmentID(seg SegmentPayload) string {
	h := sha256.New()
	h.Write([]byte(seg.Text))
	h.Write([]byte(strconv.FormatFloat(seg.StartSec, 'f', -1, 64)))
	h.Write([]byte(strconv.FormatFloat(seg.EndSec, 'f', -1, 64)))
	return "h-" + hex.EncodeToString(h.Sum(nil))[:24]
}
