package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/davidems/murmur/internal/engine"
	"github.com/davidems/murmur/internal/jobs"
	"github.com/davidems/murmur/internal/prefs"
	"github.com/davidems/murmur/internal/store"
)

// thinkingReply is what the caller gets when the outer deadline expires
// before an answer is ready.
const thinkingReply = "Give me a second, I'm still thinking."

type webhookSegment struct {
	Text          string  `json:"text"`
	ID            string  `json:"id,omitempty"`
	SegmentID     string  `json:"segment_id,omitempty"`
	Speaker       string  `json:"speaker,omitempty"`
	SpeakerID     int     `json:"speaker_id,omitempty"`
	IsUser        bool    `json:"is_user,omitempty"`
	Start         float64 `json:"start,omitempty"`
	End           float64 `json:"end,omitempty"`
	Final         bool    `json:"final,omitempty"`
	IsFinal       bool    `json:"is_final,omitempty"`
	IsLastSegment bool    `json:"is_last_segment,omitempty"`
	SegmentType   string  `json:"segment_type,omitempty"`
}

type webhookRequest struct {
	SessionID string           `json:"session_id"`
	Segments  []webhookSegment `json:"segments"`
	UID       string           `json:"uid,omitempty"`
	End       bool             `json:"end,omitempty"`
}

// webhookResponse always carries all three fields, empty or not.
type webhookResponse struct {
	Message      string `json:"message"`
	HelpResponse string `json:"help_response"`
	Instructions string `json:"instructions"`
}

type processResult struct {
	resolved prefs.Resolved
	decision engine.Decision
	answer   string
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sessionKey := strings.TrimSpace(req.SessionID)
	if sessionKey == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	if len(req.Segments) == 0 {
		respondError(w, http.StatusBadRequest, "empty_segments", "at least one segment is required")
		return
	}

	// Decision and model call race the outer deadline; persistence never
	// holds up the response either way.
	// Detached from the request context so a late completion can still
	// reach the live feed after the deadline response goes out.
	ctx := context.WithoutCancel(r.Context())
	results := make(chan processResult, 1)
	go func() {
		results <- s.process(ctx, sessionKey, req)
	}()

	deadline := time.NewTimer(s.cfg.WebhookDeadline)
	defer deadline.Stop()

	var res processResult
	var timedOut bool
	select {
	case res = <-results:
	case <-deadline.C:
		timedOut = true
	}

	var resp webhookResponse
	switch {
	case timedOut:
		resp = webhookResponse{Message: thinkingReply}
	case res.decision.Engage:
		resp = webhookResponse{Message: res.answer}
	default:
		resp = webhookResponse{}
	}
	respondJSON(w, http.StatusOK, resp)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	s.metrics.WebhookLatency.Observe(float64(time.Since(started).Milliseconds()))

	if timedOut {
		// The deadline only changes what the caller sees. A late engaged
		// answer is still persisted in full; it just reaches the device
		// over the live feed instead of the response body.
		s.enqueueBase(sessionKey, req)
		go func() {
			late := <-results
			if late.decision.Engage && late.answer != "" {
				s.enqueueEngaged(sessionKey, late)
				s.hub.Publish(sessionKey, Answer{
					SessionKey: sessionKey,
					Question:   late.decision.Question,
					Message:    late.answer,
					At:         time.Now().UTC(),
				})
			}
		}()
		return
	}

	s.enqueueBase(sessionKey, req)
	if res.decision.Engage && res.answer != "" {
		s.enqueueEngaged(sessionKey, res)
		s.hub.Publish(sessionKey, Answer{
			SessionKey: sessionKey,
			Question:   res.decision.Question,
			Message:    res.answer,
			At:         time.Now().UTC(),
		})
	}
}

// process resolves preferences, runs the engine, and, on engagement, calls
// the completion service. It never fails the request: downstream errors
// degrade to an empty decision.
func (s *Server) process(ctx context.Context, sessionKey string, req webhookRequest) processResult {
	resolved, err := s.resolver.Resolve(ctx, sessionKey, strings.TrimSpace(req.UID))
	if err != nil {
		s.log.Error().Err(err).Str("session_key", sessionKey).Msg("preference resolution failed")
		return processResult{}
	}

	batch := engine.Batch{EndOfConversation: req.End}
	for _, seg := range req.Segments {
		batch.Segments = append(batch.Segments, engine.Segment{
			ID:        segmentID(seg),
			Text:      seg.Text,
			Speaker:   seg.Speaker,
			SpeakerID: seg.SpeakerID,
			IsUser:    seg.IsUser,
			StartSec:  seg.Start,
			EndSec:    seg.End,
			Final:     segmentFinal(seg),
		})
	}

	decision := s.engine.Evaluate(sessionKey, batch, resolved)
	s.metrics.WebhookDecisions.WithLabelValues(string(decision.Reason)).Inc()
	s.metrics.TrackedSessions.Set(float64(s.engine.TrackedSessions()))
	if !decision.Engage {
		return processResult{resolved: resolved, decision: decision}
	}

	answer := s.invoker.Answer(ctx, decision.Question, s.systemContext(ctx, resolved))
	return processResult{resolved: resolved, decision: decision, answer: answer}
}

// systemContext assembles the prompt preamble, injecting recent memories
// when the preference asks for them.
func (s *Server) systemContext(ctx context.Context, resolved prefs.Resolved) string {
	var b strings.Builder
	b.WriteString("You are a concise voice companion answering a question overheard from a wearable device.")
	if !resolved.Preferences.InjectMemories || resolved.UserID == "" {
		return b.String()
	}
	memories, err := s.store.RecentMemories(ctx, resolved.UserID, 10)
	if err != nil {
		s.log.Warn().Err(err).Msg("memory injection skipped")
		return b.String()
	}
	if len(memories) > 0 {
		b.WriteString("\nThings you remember about this user:")
		for _, m := range memories {
			b.WriteString("\n- ")
			b.WriteString(m.Text)
		}
	}
	return b.String()
}

// enqueueBase queues the side effects every processed batch gets: session
// bookkeeping and transcript persistence.
func (s *Server) enqueueBase(sessionKey string, req webhookRequest) {
	s.queue.Enqueue(jobs.TypeSessionUpdate, jobs.SessionUpdatePayload{
		SessionKey: sessionKey,
		UserID:     strings.TrimSpace(req.UID),
		SeenAt:     time.Now().UTC(),
	})

	segments := make([]jobs.SegmentPayload, 0, len(req.Segments))
	for _, seg := range req.Segments {
		segments = append(segments, jobs.SegmentPayload{
			ExternalID: segmentID(seg),
			Text:       seg.Text,
			Speaker:    seg.Speaker,
			SpeakerID:  seg.SpeakerID,
			IsUser:     seg.IsUser,
			StartSec:   seg.Start,
			EndSec:     seg.End,
		})
	}
	s.queue.Enqueue(jobs.TypeTranscriptBatch, jobs.TranscriptBatchPayload{
		SessionKey: sessionKey,
		Segments:   segments,
	})
}

// enqueueEngaged queues the side effects of an answered question.
func (s *Server) enqueueEngaged(sessionKey string, res processResult) {
	threadID := res.resolved.Session.ThreadRef
	if threadID == "" {
		threadID = "device-" + sessionKey
	}
	userID := res.resolved.UserID

	s.queue.Enqueue(jobs.TypeConversationSave, jobs.ConversationSavePayload{
		SessionKey: sessionKey,
		UserID:     userID,
		ThreadID:   threadID,
		Messages: []jobs.MessagePayload{
			{Role: string(store.RoleUser), Source: string(store.SourceTranscript), Text: res.decision.Question},
			{Role: string(store.RoleAssistant), Source: string(store.SourceSystem), Text: res.answer},
		},
	})
	if userID != "" {
		s.queue.Enqueue(jobs.TypeContextWindowUpdate, jobs.ContextWindowPayload{
			SessionKey: sessionKey,
			UserID:     userID,
			ThreadID:   threadID,
		})
		if res.resolved.Preferences.InjectMemories {
			s.queue.Enqueue(jobs.TypeMemorySave, jobs.MemorySavePayload{
				UserID: userID,
				Text:   res.decision.Question,
			})
		}
	}
}

func segmentID(seg webhookSegment) string {
	if seg.ID != "" {
		return seg.ID
	}
	return seg.SegmentID
}

func segmentFinal(seg webhookSegment) bool {
	if seg.Final || seg.IsFinal || seg.IsLastSegment {
		return true
	}
	switch strings.ToLower(seg.SegmentType) {
	case "final", "last", "end":
		return true
	}
	return false
}
