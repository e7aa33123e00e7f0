package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/davidems/murmur/internal/store"
)

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.queue.Status())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleClearSessions runs the inactivity sweep on demand: sessions unseen
// past the configured timeout are soft-expired and their activation state is
// pruned with them.
func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(-s.cfg.SessionInactivityTimeout)
	expired, err := s.store.ExpireSessionsInactiveSince(r.Context(), cutoff)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	pruned := s.engine.Prune(cutoff)
	s.metrics.TrackedSessions.Set(float64(s.engine.TrackedSessions()))
	respondJSON(w, http.StatusOK, map[string]any{
		"expired_sessions": expired,
		"pruned_state":     pruned,
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_session_key", "session key is required")
		return
	}
	sess, err := s.store.FindSessionByKey(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	segments, err := s.store.ListSegments(r.Context(), sess.ID, 1000)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"segments": segments,
	})
}

// preferencesBody mirrors PreferenceRecord with JSON tags; pointers keep
// "absent" distinct from zero values.
type preferencesBody struct {
	ListenMode        *string `json:"listen_mode,omitempty"`
	FollowUpWindowMS  *int    `json:"follow_up_window_ms,omitempty"`
	Muted             *bool   `json:"muted,omitempty"`
	QuietStartMinute  *int    `json:"quiet_start_minute,omitempty"`
	QuietEndMinute    *int    `json:"quiet_end_minute,omitempty"`
	ActivationPattern *string `json:"activation_pattern,omitempty"`
	InjectMemories    *bool   `json:"inject_memories,omitempty"`
	MeetingTranscribe *bool   `json:"meeting_transcribe,omitempty"`
}

func (b preferencesBody) record() store.PreferenceRecord {
	return store.PreferenceRecord{
		ListenMode:        b.ListenMode,
		FollowUpWindowMS:  b.FollowUpWindowMS,
		Muted:             b.Muted,
		QuietStartMinute:  b.QuietStartMinute,
		QuietEndMinute:    b.QuietEndMinute,
		ActivationPattern: b.ActivationPattern,
		InjectMemories:    b.InjectMemories,
		MeetingTranscribe: b.MeetingTranscribe,
	}
}

func (s *Server) handlePutUserPreferences(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}
	var body preferencesBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.store.UpsertUserPreferences(r.Context(), userID, body.record()); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "saved"})
}

func (s *Server) handlePutSessionPreferences(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_session_key", "session key is required")
		return
	}
	var body preferencesBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Preferences hang off the session row, so make sure it exists first.
	sess, err := s.store.UpsertSession(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	if err := s.store.UpsertSessionPreferences(r.Context(), sess.ID, body.record()); err != nil {
		respondError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "saved"})
}
