package activation

import "testing"

func TestBuildPatternFallsBackOnBadSource(t *testing.T) {
	re, err := BuildPattern(`[unclosed`)
	if err == nil {
		t.Fatalf("expected compile error for bad source")
	}
	if re != DefaultPattern() {
		t.Fatalf("bad source should fall back to the default pattern")
	}
}

func TestBuildPatternCustomIsCaseInsensitive(t *testing.T) {
	re, err := BuildPattern(`\bjarvis\b`)
	if err != nil {
		t.Fatalf("BuildPattern() error = %v", err)
	}
	if !re.MatchString("Hey JARVIS what time is it") {
		t.Fatalf("custom pattern should match case-insensitively")
	}
}

func TestFindFirstMatchWins(t *testing.T) {
	segs := []Segment{
		{Text: "the weather is nice today"},
		{Text: "hey murmur, what is the time"},
		{Text: "ok murmur turn off the lights"},
	}
	m, ok := Find(segs, DefaultPattern())
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Index != 1 {
		t.Fatalf("Index = %d, want 1", m.Index)
	}
	if m.Question != "what is the time" {
		t.Fatalf("Question = %q, want %q", m.Question, "what is the time")
	}
}

func TestFindJoinsFollowingSegmentsWhenRemainderEmpty(t *testing.T) {
	segs := []Segment{
		{Text: "hey murmur"},
		{Text: "what should I"},
		{Text: "cook tonight"},
	}
	m, ok := Find(segs, DefaultPattern())
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Question != "what should I cook tonight" {
		t.Fatalf("Question = %q", m.Question)
	}
}

func TestFindNoMatch(t *testing.T) {
	segs := []Segment{{Text: "the weather is nice today"}}
	if _, ok := Find(segs, DefaultPattern()); ok {
		t.Fatalf("expected no match")
	}
}
