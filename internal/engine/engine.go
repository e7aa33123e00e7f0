// Package engine decides, per incoming segment batch and per session,
// whether the assistant engages. It owns the only mutable request-path
// state: the last accepted question per session, used for follow-up windows
// and duplicate suppression.
package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidems/murmur/internal/activation"
	"github.com/davidems/murmur/internal/prefs"
	"github.com/davidems/murmur/internal/textnorm"
)

// defaultCooldown is how long an accepted question suppresses near-duplicate
// repeats of itself.
const defaultCooldown = 10 * time.Second

// Segment is one utterance span as delivered by the webhook.
type Segment struct {
	ID        string
	Text      string
	Speaker   string
	SpeakerID int
	IsUser    bool
	StartSec  float64
	EndSec    float64
	Final     bool
}

// Batch is one webhook delivery for a session.
type Batch struct {
	Segments []Segment
	// EndOfConversation is the request-level end/final flag.
	EndOfConversation bool
}

// Reason tags why a batch was engaged or dropped; the webhook metrics count
// decisions by it.
type Reason string

const (
	ReasonEngaged         Reason = "engaged"
	ReasonMeetingComplete Reason = "meeting_complete"
	ReasonMeetingPending  Reason = "meeting_pending"
	ReasonQuietHours      Reason = "quiet_hours"
	ReasonNoTrigger       Reason = "no_trigger"
	ReasonEmptyQuestion   Reason = "empty_question"
	ReasonDuplicate       Reason = "duplicate"
)

type Decision struct {
	Engage   bool
	Question string
	Reason   Reason
}

type sessionState struct {
	mu           sync.Mutex
	lastQuestion string
	lastAt       time.Time
}

// Engine evaluates batches against resolved preferences. Sessions are
// independent; two overlapping requests for the same session serialize on a
// per-session lock.
type Engine struct {
	mu       sync.Mutex
	states   map[string]*sessionState
	cooldown time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func New(log zerolog.Logger) *Engine {
	return &Engine{
		states:   make(map[string]*sessionState),
		cooldown: defaultCooldown,
		log:      log.With().Str("component", "engine").Logger(),
		now:      time.Now,
	}
}

// Evaluate runs the decision ladder for one batch: meeting gate, quiet
// hours, listen mode, question extraction, duplicate cooldown.
func (e *Engine) Evaluate(sessionKey string, batch Batch, res prefs.Resolved) Decision {
	now := e.now()
	p := res.Preferences

	if p.MeetingTranscribe {
		if batch.EndOfConversation || anyFinal(batch.Segments) {
			text := joinedText(batch.Segments)
			if text == "" {
				return Decision{Reason: ReasonEmptyQuestion}
			}
			return Decision{Engage: true, Question: text, Reason: ReasonMeetingComplete}
		}
		// Segments were already persisted by the queue; nothing to say yet.
		return Decision{Reason: ReasonMeetingPending}
	}

	if p.InQuietHours(now) {
		return Decision{Reason: ReasonQuietHours}
	}

	state := e.state(sessionKey)
	state.mu.Lock()
	defer state.mu.Unlock()

	match, matched := activation.Find(matcherSegments(batch.Segments), res.Pattern)

	var question string
	switch p.ListenMode {
	case prefs.ModeTrigger:
		if !matched {
			return Decision{Reason: ReasonNoTrigger}
		}
		question = match.Question
	case prefs.ModeFollowUp:
		switch {
		case matched:
			question = match.Question
		case !state.lastAt.IsZero() && now.Sub(state.lastAt) <= p.FollowUpWindow:
			question = joinedText(batch.Segments)
		default:
			return Decision{Reason: ReasonNoTrigger}
		}
	case prefs.ModeAlways:
		if matched {
			question = match.Question
		} else {
			question = joinedText(batch.Segments)
		}
	default:
		return Decision{Reason: ReasonNoTrigger}
	}

	normalized := textnorm.Normalize(question)
	if normalized == "" {
		return Decision{Reason: ReasonEmptyQuestion}
	}

	if state.lastQuestion != "" &&
		now.Sub(state.lastAt) <= e.cooldown &&
		textnorm.IsNearDuplicate(normalized, state.lastQuestion) {
		e.log.Debug().Str("session_key", sessionKey).Msg("duplicate question suppressed")
		return Decision{Reason: ReasonDuplicate}
	}

	state.lastQuestion = normalized
	state.lastAt = now
	return Decision{Engage: true, Question: strings.TrimSpace(question), Reason: ReasonEngaged}
}

// Prune drops per-session state not touched since the cutoff. The inactivity
// sweep that expires sessions calls this with the same cutoff, so tracked
// state stays bounded by live sessions.
func (e *Engine) Prune(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key, state := range e.states {
		state.mu.Lock()
		stale := state.lastAt.Before(cutoff)
		state.mu.Unlock()
		if stale {
			delete(e.states, key)
			n++
		}
	}
	return n
}

// TrackedSessions reports how many sessions currently hold state.
func (e *Engine) TrackedSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

func (e *Engine) state(sessionKey string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[sessionKey]
	if !ok {
		s = &sessionState{}
		e.states[sessionKey] = s
	}
	return s
}

func matcherSegments(segments []Segment) []activation.Segment {
	out := make([]activation.Segment, len(segments))
	for i, seg := range segments {
		out[i] = activation.Segment{Text: seg.Text}
	}
	return out
}

func joinedText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func anyFinal(segments []Segment) bool {
	for _, seg := range segments {
		if seg.Final {
			return true
		}
	}
	return false
}
