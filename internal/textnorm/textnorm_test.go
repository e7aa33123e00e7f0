package textnorm

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Hey   Murmur,  what's Up? ", "hey murmur whats up"},
		{"WHAT IS THE TIME?", "what is the time"},
		{"", ""},
		{"...", ""},
		{"one\ttwo\nthree", "one two three"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSimilarityBounds(t *testing.T) {
	if got := Similarity("abc", "abc"); got != 1 {
		t.Fatalf("identical similarity = %v, want 1", got)
	}
	if got := Similarity("abc", "xyz"); got != 0 {
		t.Fatalf("disjoint similarity = %v, want 0", got)
	}
	if got := Similarity("", ""); got != 1 {
		t.Fatalf("empty similarity = %v, want 1", got)
	}
	if got := Similarity("abcd", "abce"); got != 0.75 {
		t.Fatalf("one-edit similarity = %v, want 0.75", got)
	}
}

func TestIsNearDuplicate(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "what is the time", "what is the time", true},
		{"near identical", "what is the time", "what is the times", true},
		{"contained long", "remind me to call mom tomorrow", "remind me to call mom tomorrow ok", true},
		{"different", "what is the time", "play some music", false},
		{"empty left", "", "what is the time", false},
		{"empty right", "what is the time", "", false},
		{"both empty", "", "", false},
		{"short containment rejected", "time", "what is the time", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNearDuplicate(tc.a, tc.b); got != tc.want {
				t.Fatalf("IsNearDuplicate(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if got := IsNearDuplicate(tc.b, tc.a); got != tc.want {
				t.Fatalf("IsNearDuplicate(%q, %q) = %v, want %v (symmetry)", tc.b, tc.a, got, tc.want)
			}
		})
	}
}
