// Package markup incrementally classifies streamed model output into plain
// text and embedded tool-invocation segments.
//
// The parser is pure: it takes the full text accumulated so far for one turn
// plus a caller-owned State, and returns the ordered segments found in this
// pass. It never fails: truncated markers, half-written invocations, and
// garbage between markers all degrade to usable partial output.
package markup

import (
	"strings"

	"github.com/turnstile-dev/turnstile/pkg/chat"
)

// Kind classifies a segment.
type Kind int

const (
	KindText Kind = iota
	KindToolInvocation
)

// Segment is one classified unit of streamed output. Source holds the exact
// input span the segment was classified from, so callers can verify that no
// input characters were dropped.
type Segment struct {
	Kind Kind

	// Text content (KindText).
	Text string

	// Tool invocation fields (KindToolInvocation). RawPayload may be an
	// incomplete fragment while Complete is false.
	ToolName   string
	RawPayload string
	Complete   bool

	Source string
}

// State is the parse state threaded across successive Parse calls for one
// streaming turn. Create a zero State at turn start; Reset it (or drop it)
// when the turn ends. Counters are recomputed on every pass since Parse
// always re-scans the full accumulated text.
type State struct {
	// BufferedTail is trailing input withheld from segments because it may
	// be the prefix of a start marker that has not fully arrived.
	BufferedTail string

	ToolCount        int
	PartialToolCount int

	// CompletionObserved is true once at least one invocation closed and no
	// invocation remains open.
	CompletionObserved bool
}

// Reset returns the state to its turn-start value.
func (s *State) Reset() { *s = State{} }

// The markers are owned by chat so the parser and the transport renderers
// cannot drift apart.
const (
	startMarker = chat.StartMarker
	endMarker   = chat.EndMarker
)

// Parse classifies the full accumulated text of one turn into ordered
// segments and updates st. Adjacent text runs are coalesced; an invocation
// with Complete == false can only be the final segment.
func Parse(text string, st *State) []Segment {
	var segs []Segment
	var pendingText strings.Builder

	flushText := func() {
		if pendingText.Len() == 0 {
			return
		}
		t := pendingText.String()
		segs = append(segs, Segment{Kind: KindText, Text: t, Source: t})
		pendingText.Reset()
	}

	st.BufferedTail = ""
	st.ToolCount = 0
	st.PartialToolCount = 0

	i := 0
	for {
		rel := strings.Index(text[i:], startMarker)
		if rel < 0 {
			rest := text[i:]
			if n := markerPrefixLen(rest); n > 0 {
				pendingText.WriteString(rest[:len(rest)-n])
				st.BufferedTail = rest[len(rest)-n:]
			} else {
				pendingText.WriteString(rest)
			}
			break
		}

		start := i + rel
		pendingText.WriteString(text[i:start])
		innerStart := start + len(startMarker)

		endRel := strings.Index(text[innerStart:], endMarker)
		if endRel < 0 {
			// Unterminated invocation: everything to end of input is inside
			// the markers. Emit a partial segment if a tool name is already
			// extractable, otherwise surface the region as plain text for
			// now; the next pass re-scans and reclassifies.
			inner := text[innerStart:]
			name, payload, ok := splitInvocation(inner, false)
			if ok {
				flushText()
				segs = append(segs, Segment{
					Kind:       KindToolInvocation,
					ToolName:   name,
					RawPayload: payload,
					Complete:   false,
					Source:     text[start:],
				})
				st.PartialToolCount++
			} else {
				pendingText.WriteString(text[start:])
			}
			break
		}

		innerEnd := innerStart + endRel
		tagEnd := innerEnd + len(endMarker)
		inner := text[innerStart:innerEnd]
		name, payload, ok := splitInvocation(inner, true)
		if ok {
			flushText()
			segs = append(segs, Segment{
				Kind:       KindToolInvocation,
				ToolName:   name,
				RawPayload: payload,
				Complete:   true,
				Source:     text[start:tagEnd],
			})
			st.ToolCount++
		} else {
			// Well-delimited but malformed content: plain text, markers and all.
			pendingText.WriteString(text[start:tagEnd])
		}
		i = tagEnd
	}

	flushText()
	st.ToolCount += st.PartialToolCount
	st.CompletionObserved = st.ToolCount > 0 && st.PartialToolCount == 0
	return segs
}

// splitInvocation extracts a tool name and payload from the region between
// markers. The expected shape is name(payload). For a complete invocation the
// trailing ")" is required; for a partial one the payload is whatever has
// arrived after "(", with a trailing ")" stripped if present.
func splitInvocation(inner string, complete bool) (name, payload string, ok bool) {
	paren := strings.IndexByte(inner, '(')
	if paren <= 0 {
		return "", "", false
	}
	name = inner[:paren]
	if !validToolName(name) {
		return "", "", false
	}
	if complete {
		if !strings.HasSuffix(inner, ")") {
			return "", "", false
		}
		return name, inner[paren+1 : len(inner)-1], true
	}
	payload = inner[paren+1:]
	payload = strings.TrimSuffix(payload, ")")
	return name, payload, true
}

func validToolName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case i > 0 && (c >= '0' && c <= '9' || c == '-'):
		default:
			return false
		}
	}
	return len(s) > 0
}

// markerPrefixLen returns the length of the longest proper suffix of s that
// is a prefix of the start marker (e.g. 3 for "…<to"), or 0.
func markerPrefixLen(s string) int {
	max := len(startMarker) - 1
	if len(s) < max {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if s[len(s)-n:] == startMarker[:n] {
			return n
		}
	}
	return 0
}
