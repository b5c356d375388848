package journal

import (
	"regexp"
	"strings"
)

// markerPattern matches the exact literal marker syntax from spec.md §6:
// <ralph:event topic="TOPIC">PAYLOAD</ralph:event>, case-sensitive, no
// whitespace before topic, no nested tags. The payload may span lines.
var markerPattern = regexp.MustCompile(`(?s)<ralph:event topic="([^"]*)">(.*?)</ralph:event>`)

// MarkerMatch is one extracted `<ralph:event>` marker.
type MarkerMatch struct {
	Topic   string
	Payload string
}

// MarkerBuffer accumulates subprocess output across read chunks and
// extracts complete markers, buffering an incomplete trailing marker
// until more data arrives (spec.md §4.4 point 5: "Markers spanning read
// chunks are buffered").
type MarkerBuffer struct {
	pending strings.Builder
}

// Feed appends a chunk of output and returns any complete markers found.
// Text that can't yet be resolved into a complete marker (an open
// "<ralph:event" with no matching close yet) is held for the next Feed.
func (b *MarkerBuffer) Feed(chunk string) []MarkerMatch {
	b.pending.WriteString(chunk)
	text := b.pending.String()

	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		// Keep only a bounded tail in case an open tag is still arriving;
		// avoid unbounded growth from plain non-marker output.
		const keepTail = 256
		if len(text) > keepTail && !strings.Contains(text, "<ralph:event") {
			b.pending.Reset()
			b.pending.WriteString(text[len(text)-keepTail:])
		}
		return nil
	}

	var out []MarkerMatch
	lastEnd := 0
	for _, m := range matches {
		topic := text[m[2]:m[3]]
		payload := text[m[4]:m[5]]
		out = append(out, MarkerMatch{Topic: topic, Payload: payload})
		lastEnd = m[1]
	}

	remainder := text[lastEnd:]
	b.pending.Reset()
	b.pending.WriteString(remainder)
	return out
}

// FindCompletionPromise reports whether token appears verbatim anywhere
// in text (spec.md §4.4 point 6: "scan the final output for the
// completion promise token").
func FindCompletionPromise(text, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(text, token)
}
