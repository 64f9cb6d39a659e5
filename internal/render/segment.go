// Package render turns raw turn text into display blocks. Text is split on
// triple-backtick fences into prose and code segments; code segments whose
// first line names a known language get that line rewritten as a comment.
//
// Fence handling is deliberately naive: fences are not checked for balance
// and there is no escaping. An unterminated fence runs to the end of the
// text.
package render

import "strings"

// Fence delimits code spans.
const Fence = "```"

// Kind tells prose spans from code spans.
type Kind string

const (
	KindProse Kind = "prose"
	KindCode  Kind = "code"
)

// Segment is a contiguous prose or code span of a text.
type Segment struct {
	Kind     Kind   `json:"kind"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Split segments text and decorates code spans that start with a known
// language tag.
func Split(text string) []Segment {
	return split(text, true)
}

// SplitPlain segments text without language detection.
func SplitPlain(text string) []Segment {
	return split(text, false)
}

// Join re-inserts the fences between segment contents.
func Join(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Content
	}
	return strings.Join(parts, Fence)
}

func split(text string, decorate bool) []Segment {
	parts := strings.Split(text, Fence)
	out := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if i%2 == 0 {
			out = append(out, Segment{Kind: KindProse, Content: part})
			continue
		}
		seg := Segment{Kind: KindCode, Content: part}
		if decorate {
			seg.Content, seg.Language = annotate(part)
		}
		out = append(out, seg)
	}
	return out
}
