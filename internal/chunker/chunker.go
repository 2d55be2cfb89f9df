// Package chunker splits long text into bounded segments along paragraph and
// sentence boundaries and puts them back together in order.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	ParagraphSep = "\n\n"
	SentenceSep  = " "
)

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n\s*`)

// Segment is one bounded piece of text. Sep is the separator that followed
// it in the input and is empty for the last segment.
type Segment struct {
	Text string
	Sep  string
}

// Len is the segment length in characters, separator excluded.
func (s Segment) Len() int {
	return utf8.RuneCountInString(s.Text)
}

type unit struct {
	text string
	sep  string
}

// Split cuts text into segments of at most maxLen characters. A sentence that
// is longer than maxLen on its own becomes a single oversized segment. Text
// that already fits, or a non-positive maxLen, yields one segment.
func Split(text string, maxLen int) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return []Segment{{Text: text}}
	}

	units := splitUnits(text, maxLen)

	var (
		segments []Segment
		cur      strings.Builder
		curLen   int
		pending  string
	)
	for _, u := range units {
		ulen := utf8.RuneCountInString(u.text)
		switch {
		case curLen == 0:
			cur.WriteString(u.text)
			curLen = ulen
		case curLen+utf8.RuneCountInString(pending)+ulen <= maxLen:
			cur.WriteString(pending)
			cur.WriteString(u.text)
			curLen += utf8.RuneCountInString(pending) + ulen
		default:
			segments = append(segments, Segment{Text: cur.String(), Sep: pending})
			cur.Reset()
			cur.WriteString(u.text)
			curLen = ulen
		}
		pending = u.sep
	}
	if curLen > 0 {
		segments = append(segments, Segment{Text: cur.String()})
	}
	return segments
}

func splitUnits(text string, maxLen int) []unit {
	var units []unit
	for _, p := range paragraphBreak.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= maxLen {
			units = append(units, unit{text: p, sep: ParagraphSep})
			continue
		}
		sentences := strings.Split(p, ". ")
		for i, s := range sentences {
			if i < len(sentences)-1 {
				units = append(units, unit{text: s + ".", sep: SentenceSep})
				continue
			}
			units = append(units, unit{text: s, sep: ParagraphSep})
		}
	}
	if len(units) > 0 {
		units[len(units)-1].sep = ""
	}
	return units
}

// Join concatenates segments with their recorded separators.
func Join(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
		b.WriteString(s.Sep)
	}
	return b.String()
}

// Texts returns the segment texts in order.
func Texts(segments []Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

// Replace returns a copy of segments with texts substituted in order and the
// original separators kept.
func Replace(segments []Segment, texts []string) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		out[i] = Segment{Text: texts[i], Sep: s.Sep}
	}
	return out
}
