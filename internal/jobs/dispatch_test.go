package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidems/murmur/internal/store"
)

func TestMemorySaveDedupesWithinWindow(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	d := NewDispatcher(st, zerolog.Nop())

	job := Job{Type: TypeMemorySave, Payload: MemorySavePayload{UserID: "u1", Text: "likes green tea"}}
	if err := d.Handle(ctx, job); err != nil {
		t.Fatalf("first save error = %v", err)
	}
	if err := d.Handle(ctx, job); err != nil {
		t.Fatalf("second save error = %v", err)
	}

	if _, err := st.FindRecentMemory(ctx, "u1", "likes green tea", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("memory missing: %v", err)
	}
	// A different text within the window must still insert.
	other := Job{Type: TypeMemorySave, Payload: MemorySavePayload{UserID: "u1", Text: "plays chess"}}
	if err := d.Handle(ctx, other); err != nil {
		t.Fatalf("other save error = %v", err)
	}
	if _, err := st.FindRecentMemory(ctx, "u1", "plays chess", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("second memory missing: %v", err)
	}
}

func TestMemorySaveExactlyOneRowAfterDoubleDelivery(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	d := NewDispatcher(st, zerolog.Nop())

	payload := MemorySavePayload{UserID: "u1", Text: "likes green tea"}
	for i := 0; i < 2; i++ {
		if err := d.Handle(ctx, Job{Type: TypeMemorySave, Payload: payload}); err != nil {
			t.Fatalf("delivery %d error = %v", i, err)
		}
	}
	if n := st.MemoryCount("u1"); n != 1 {
		t.Fatalf("memory rows = %d, want exactly 1", n)
	}
}

func TestTranscriptBatchRedeliveryUpserts(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	d := NewDispatcher(st, zerolog.Nop())

	payload := TranscriptBatchPayload{
		SessionKey: "dev-1",
		Segments: []SegmentPayload{
			{ExternalID: "seg-1", Text: "hello there", StartSec: 0.5, EndSec: 1.2},
			{Text: "no id segment", StartSec: 1.3, EndSec: 2.0},
		},
	}
	if err := d.Handle(ctx, Job{Type: TypeTranscriptBatch, Payload: payload}); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	payload.Segments[0].Text = "hello there friend"
	if err := d.Handle(ctx, Job{Type: TypeTranscriptBatch, Payload: payload}); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}

	sess, err := st.FindSessionByKey(ctx, "dev-1")
	if err != nil {
		t.Fatalf("FindSessionByKey() error = %v", err)
	}
	segs, err := st.ListSegments(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2 (no duplicates)", len(segs))
	}
	for _, seg := range segs {
		if seg.ExternalID == "seg-1" && seg.Text != "hello there friend" {
			t.Fatalf("seg-1 not updated: %q", seg.Text)
		}
	}
}

func TestConversationSaveUpsertsThreadAndAppendsMessages(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	d := NewDispatcher(st, zerolog.Nop())

	job := Job{Type: TypeConversationSave, Payload: ConversationSavePayload{
		SessionKey: "dev-1",
		UserID:     "u1",
		ThreadID:   "thread-1",
		Messages: []MessagePayload{
			{Role: string(store.RoleUser), Source: string(store.SourceTranscript), Text: "what is the time"},
			{Role: string(store.RoleAssistant), Source: string(store.SourceSystem), Text: "half past nine"},
		},
	}}
	if err := d.Handle(ctx, job); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	sess, _ := st.FindSessionByKey(ctx, "dev-1")
	conv, err := st.UpsertConversation(ctx, sess.ID, "u1", "thread-1")
	if err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}
	if conv.UserID != "u1" {
		t.Fatalf("conversation user = %q", conv.UserID)
	}
}

func TestContextWindowUpdateLinksConversation(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	d := NewDispatcher(st, zerolog.Nop())

	job := Job{Type: TypeContextWindowUpdate, Payload: ContextWindowPayload{
		SessionKey: "dev-1", UserID: "u1", ThreadID: "thread-1",
	}}
	if err := d.Handle(ctx, job); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	convID, err := st.ContextWindow(ctx, "u1")
	if err != nil {
		t.Fatalf("ContextWindow() error = %v", err)
	}
	sess, _ := st.FindSessionByKey(ctx, "dev-1")
	conv, _ := st.UpsertConversation(ctx, sess.ID, "u1", "thread-1")
	if convID != conv.ID {
		t.Fatalf("context window = %q, want %q", convID, conv.ID)
	}
}

func TestDispatchRejectsUnknownTypeAndBadPayload(t *testing.T) {
	d := NewDispatcher(store.NewInMemory(), zerolog.Nop())
	if err := d.Handle(context.Background(), Job{Type: "NOPE"}); err == nil {
		t.Fatalf("unknown type should error")
	}
	if err := d.Handle(context.Background(), Job{Type: TypeMemorySave, Payload: 42}); err == nil {
		t.Fatalf("bad payload should error")
	}
}

func TestFallbackSegmentIDIsStable(t *testing.T) {
	seg := SegmentPayload{Text: "hello", StartSec: 1.5, EndSec: 2.25}
	if fallbackSegmentID(seg) != fallbackSegmentID(seg) {
		t.Fatalf("fallback id must be deterministic")
	}
	other := SegmentPayload{Text: "hello", StartSec: 1.5, EndSec: 2.26}
	if fallbackSegmentID(seg) == fallbackSegmentID(other) {
		t.Fatalf("different content must hash differently")
	}
}
