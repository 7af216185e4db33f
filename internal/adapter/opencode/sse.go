package opencode

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is a single Server-Sent Event parsed from the upstream stream.
type sseEvent struct {
	Type string
	Data string
}

// sseScanner reads Server-Sent Events from an io.Reader. Events are
// delimited by blank lines; "data:" lines carry the payload (multiple lines
// are joined with newlines per the SSE specification), "event:" sets the
// type, and comment lines (":") and unknown fields are ignored.
type sseScanner struct {
	reader  *bufio.Reader
	current sseEvent
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. Returns false on EOF or error; call Err
// afterwards to distinguish the two.
func (s *sseScanner) Next() bool {
	s.current = sseEvent{}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')

		if err != nil && line == "" {
			if err == io.EOF && hasData {
				// Partial last event before EOF still counts.
				s.current = sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				s.err = io.EOF
				return true
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line = event boundary.
		if line == "" {
			if hasData {
				s.current = sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field, value = line, ""
		} else {
			// Per spec: a single leading space in the value is stripped.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		default:
			// "id", "retry" and unknown fields are ignored.
		}
	}
}

// Event returns the most recently parsed event. Only valid after Next
// returned true.
func (s *sseScanner) Event() sseEvent {
	return s.current
}

// Err returns the first error encountered. A clean EOF reports nil.
func (s *sseScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
