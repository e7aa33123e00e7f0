// Package prefs resolves the activation preferences that govern when the
// assistant engages: listen mode, follow-up window, mute, quiet hours, wake
// pattern override, and the memory/meeting flags.
package prefs

import (
	"time"

	"github.com/davidems/murmur/internal/store"
)

type ListenMode string

const (
	ModeTrigger  ListenMode = "TRIGGER"
	ModeFollowUp ListenMode = "FOLLOWUP"
	ModeAlways   ListenMode = "ALWAYS"
)

// Preferences is a fully resolved configuration. Quiet-hour minutes stay
// pointers because "unset" and "midnight" are different things.
type Preferences struct {
	ListenMode        ListenMode
	FollowUpWindow    time.Duration
	Muted             bool
	QuietStartMinute  *int
	QuietEndMinute    *int
	ActivationPattern string
	InjectMemories    bool
	MeetingTranscribe bool
}

// Default returns the hardcoded base configuration every resolution starts
// from.
func Default() Preferences {
	return Preferences{
		ListenMode:     ModeTrigger,
		FollowUpWindow: 8 * time.Second,
		InjectMemories: true,
	}
}

// Apply overlays a stored record onto p. Set fields win; nil fields leave p
// alone, so session records naturally fall through to user records and user
// records to the defaults.
func (p *Preferences) Apply(rec store.PreferenceRecord) {
	if rec.ListenMode != nil {
		switch ListenMode(*rec.ListenMode) {
		case ModeTrigger, ModeFollowUp, ModeAlways:
			p.ListenMode = ListenMode(*rec.ListenMode)
		}
	}
	if rec.FollowUpWindowMS != nil && *rec.FollowUpWindowMS > 0 {
		p.FollowUpWindow = time.Duration(*rec.FollowUpWindowMS) * time.Millisecond
	}
	if rec.Muted != nil {
		p.Muted = *rec.Muted
	}
	if rec.QuietStartMinute != nil {
		p.QuietStartMinute = rec.QuietStartMinute
	}
	if rec.QuietEndMinute != nil {
		p.QuietEndMinute = rec.QuietEndMinute
	}
	if rec.ActivationPattern != nil {
		p.ActivationPattern = *rec.ActivationPattern
	}
	if rec.InjectMemories != nil {
		p.InjectMemories = *rec.InjectMemories
	}
	if rec.MeetingTranscribe != nil {
		p.MeetingTranscribe = *rec.MeetingTranscribe
	}
}

// InQuietHours reports whether engagement is suppressed at the given time.
// Mute always suppresses. A window with equal endpoints is a no-op, and a
// window whose start is after its end wraps midnight.
func (p Preferences) InQuietHours(now time.Time) bool {
	if p.Muted {
		return true
	}
	if p.QuietStartMinute == nil || p.QuietEndMinute == nil {
		return false
	}
	start, end := *p.QuietStartMinute, *p.QuietEndMinute
	if start == end {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}
