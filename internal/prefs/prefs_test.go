package prefs

import (
	"testing"
	"time"

	"github.com/davidems/murmur/internal/store"
)

func minuteOfDay(t *testing.T, minute int) time.Time {
	t.Helper()
	return time.Date(2026, 3, 10, minute/60, minute%60, 0, 0, time.UTC)
}

func TestInQuietHoursPlainWindow(t *testing.T) {
	start, end := 8*60, 17*60
	p := Default()
	p.QuietStartMinute = &start
	p.QuietEndMinute = &end

	cases := []struct {
		minute int
		want   bool
	}{
		{8*60 - 1, false},
		{8 * 60, true},
		{12 * 60, true},
		{17*60 - 1, true},
		{17 * 60, false},
	}
	for _, tc := range cases {
		if got := p.InQuietHours(minuteOfDay(t, tc.minute)); got != tc.want {
			t.Errorf("minute %d: got %v, want %v", tc.minute, got, tc.want)
		}
	}
}

func TestInQuietHoursWrapsMidnight(t *testing.T) {
	start, end := 22*60, 7*60
	p := Default()
	p.QuietStartMinute = &start
	p.QuietEndMinute = &end

	cases := []struct {
		minute int
		want   bool
	}{
		{23 * 60, true},
		{0, true},
		{7*60 - 1, true},
		{7 * 60, false},
		{12 * 60, false},
		{22 * 60, true},
	}
	for _, tc := range cases {
		if got := p.InQuietHours(minuteOfDay(t, tc.minute)); got != tc.want {
			t.Errorf("minute %d: got %v, want %v", tc.minute, got, tc.want)
		}
	}
}

func TestInQuietHoursDegenerateAndUnset(t *testing.T) {
	p := Default()
	if p.InQuietHours(time.Now()) {
		t.Fatalf("unset window should never suppress")
	}

	same := 9 * 60
	p.QuietStartMinute = &same
	p.QuietEndMinute = &same
	if p.InQuietHours(minuteOfDay(t, 9*60)) {
		t.Fatalf("start == end is a no-op window")
	}
}

func TestInQuietHoursMuteShortCircuits(t *testing.T) {
	p := Default()
	p.Muted = true
	if !p.InQuietHours(time.Now()) {
		t.Fatalf("mute must always suppress")
	}
}

func TestApplyLayersFieldByField(t *testing.T) {
	mode := string(ModeAlways)
	window := 12000
	muted := true

	p := Default()
	p.Apply(store.PreferenceRecord{ListenMode: &mode, FollowUpWindowMS: &window})
	p.Apply(store.PreferenceRecord{Muted: &muted})

	if p.ListenMode != ModeAlways {
		t.Fatalf("ListenMode = %q, want ALWAYS", p.ListenMode)
	}
	if p.FollowUpWindow != 12*time.Second {
		t.Fatalf("FollowUpWindow = %v, want 12s", p.FollowUpWindow)
	}
	if !p.Muted {
		t.Fatalf("Muted should survive the second layer")
	}
	if !p.InjectMemories {
		t.Fatalf("unset fields must keep their defaults")
	}
}

func TestApplyRejectsUnknownListenMode(t *testing.T) {
	bad := "SHOUT"
	p := Default()
	p.Apply(store.PreferenceRecord{ListenMode: &bad})
	if p.ListenMode != ModeTrigger {
		t.Fatalf("unknown mode should be ignored, got %q", p.ListenMode)
	}
}
