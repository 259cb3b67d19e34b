// Package sse provides a minimal Server-Sent Events reader for the
// streaming provider dialects.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one SSE event: an optional type and the data payload.
type Event struct {
	Type string // value of the "event:" field (may be empty)
	Data string // value of the "data:" field(s), joined with "\n"
}

// Reader decodes SSE events from a byte stream.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<20), 1<<20) // provider frames can carry large deltas
	return &Reader{scanner: sc}
}

// Next returns the next event. A pending event at end of stream is flushed
// before io.EOF is reported.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var dataLines []string
	pending := false

	dispatch := func() Event {
		ev.Data = strings.Join(dataLines, "\n")
		return ev
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if pending {
				return dispatch(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment line
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Type = value
			pending = true
		case "data":
			dataLines = append(dataLines, value)
			pending = true
		}
		// id and retry are ignored, we never reconnect mid-turn
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if pending {
		return dispatch(), nil
	}
	return Event{}, io.EOF
}

// splitField splits "field: value", stripping exactly one leading space
// after the colon as the SSE spec requires.
func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	field, value = line[:i], line[i+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
