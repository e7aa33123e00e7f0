// Package activation detects wake phrases in transcript segment batches and
// extracts the question text that follows them.
package activation

import (
	"regexp"
	"strings"
)

// defaultPattern matches an optional greeting word followed by one of the
// assistant's names, with optional trailing punctuation.
var defaultPattern = regexp.MustCompile(`(?i)\b(?:hey|hi|hello|ok|okay)?[\s,]*(?:murmur|assistant|companion)\b[.,!?:;]*`)

// Segment is the slice of a transcript batch the matcher needs.
type Segment struct {
	Text string
}

// Match locates a wake phrase inside a batch.
type Match struct {
	// Index of the segment containing the wake phrase.
	Index int
	// Question is the text after the wake phrase, trimmed. When the wake
	// phrase ends its segment, the texts of all following segments are
	// joined instead.
	Question string
}

// BuildPattern compiles a custom wake pattern, falling back to the default
// when the source is empty or does not compile. A bad override must never
// take the pipeline down.
func BuildPattern(customSource string) (*regexp.Regexp, error) {
	src := strings.TrimSpace(customSource)
	if src == "" {
		return defaultPattern, nil
	}
	if !strings.HasPrefix(src, "(?i)") {
		src = "(?i)" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return defaultPattern, err
	}
	return re, nil
}

// DefaultPattern returns the built-in wake pattern.
func DefaultPattern() *regexp.Regexp { return defaultPattern }

// Find scans segments in order and returns the first one whose text matches
// the pattern. Later matches in the same batch are ignored.
func Find(segments []Segment, pattern *regexp.Regexp) (Match, bool) {
	if pattern == nil {
		pattern = defaultPattern
	}
	for i, seg := range segments {
		loc := pattern.FindStringIndex(seg.Text)
		if loc == nil {
			continue
		}
		question := strings.TrimSpace(seg.Text[loc[1]:])
		if question == "" {
			var rest []string
			for _, follow := range segments[i+1:] {
				if t := strings.TrimSpace(follow.Text); t != "" {
					rest = append(rest, t)
				}
			}
			question = strings.Join(rest, " ")
		}
		return Match{Index: i, Question: question}, true
	}
	return Match{}, false
}
