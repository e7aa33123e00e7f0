package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertSessionIsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	first, err := s.UpsertSession(ctx, "dev-1")
	if err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	second, err := s.UpsertSession(ctx, "dev-1")
	if err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeated upsert created a new row: %s vs %s", first.ID, second.ID)
	}
}

func TestUpsertSegmentsReplacesByExternalID(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	sess, _ := s.UpsertSession(ctx, "dev-1")

	batch := []Segment{
		{SessionID: sess.ID, ExternalID: "seg-1", Text: "hello"},
		{SessionID: sess.ID, ExternalID: "seg-2", Text: "world"},
	}
	if err := s.UpsertSegments(ctx, batch); err != nil {
		t.Fatalf("UpsertSegments() error = %v", err)
	}
	// Redelivery with updated text must not duplicate rows.
	batch[0].Text = "hello again"
	if err := s.UpsertSegments(ctx, batch); err != nil {
		t.Fatalf("UpsertSegments() retry error = %v", err)
	}

	got, err := s.ListSegments(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("segment count = %d, want 2", len(got))
	}
	for _, seg := range got {
		if seg.ExternalID == "seg-1" && seg.Text != "hello again" {
			t.Fatalf("seg-1 text = %q, want latest value", seg.Text)
		}
	}
}

func TestUpsertConversationIsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	sess, _ := s.UpsertSession(ctx, "dev-1")

	a, err := s.UpsertConversation(ctx, sess.ID, "u1", "thread-1")
	if err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}
	b, err := s.UpsertConversation(ctx, sess.ID, "u1", "thread-1")
	if err != nil {
		t.Fatalf("UpsertConversation() retry error = %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("retry created a second conversation")
	}
}

func TestExpireSessionsInactiveSince(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	sess, _ := s.UpsertSession(ctx, "dev-1")
	if err := s.TouchSession(ctx, "dev-1", "", "", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("TouchSession() error = %v", err)
	}

	n, err := s.ExpireSessionsInactiveSince(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ExpireSessionsInactiveSince() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	got, _ := s.FindSessionByKey(ctx, "dev-1")
	if got.Status != SessionExpired {
		t.Fatalf("status = %q, want expired", got.Status)
	}
	_ = sess
}

func TestFindRecentMemoryWindow(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.CreateMemory(ctx, "u1", "likes green tea"); err != nil {
		t.Fatalf("CreateMemory() error = %v", err)
	}
	if _, err := s.FindRecentMemory(ctx, "u1", "likes green tea", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("expected recent memory, got %v", err)
	}
	_, err := s.FindRecentMemory(ctx, "u1", "likes green tea", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("future cutoff should miss, got %v", err)
	}
}
