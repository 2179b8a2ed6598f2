// internal/adapter/stream.go
package adapter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EventKind classifies a normalized output event.
type EventKind string

const (
	EventToolCall   EventKind = "tool_call"
	EventText       EventKind = "text"
	EventError      EventKind = "error"
	EventCompletion EventKind = "completion"
)

// NormalizedEvent is one CLI output event in the uniform shape every
// adapter produces regardless of the CLI's native stream format.
type NormalizedEvent struct {
	Kind EventKind

	// Tool call fields.
	Tool string
	Args json.RawMessage

	// Text and error payloads.
	Text    string
	Message string

	// Completion.
	ExitCode int
}

// rawEvent is the NDJSON wire shape CLIs emit.
type rawEvent struct {
	Type     string          `json:"type"`
	Tool     string          `json:"tool"`
	Args     json.RawMessage `json:"args"`
	Text     string          `json:"text"`
	Message  string          `json:"message"`
	ExitCode int             `json:"exit_code"`
}

// EventStream yields NormalizedEvents lazily from raw CLI output. It is
// finite and non-restartable: the underlying reader is consumed as events
// are pulled, so exactly one consumer may drain it.
type EventStream struct {
	scanner *bufio.Scanner
	done    bool
	err     error
}

func newEventStream(raw io.Reader) *EventStream {
	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &EventStream{scanner: scanner}
}

// Next returns the next event. It returns io.EOF once the stream is
// exhausted and a wrapped parse error on malformed NDJSON, after which the
// stream is dead.
func (s *EventStream) Next() (*NormalizedEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "{") {
			// CLIs interleave plain diagnostics with their JSON stream.
			return &NormalizedEvent{Kind: EventText, Text: line}, nil
		}

		var raw rawEvent
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			s.err = fmt.Errorf("malformed output event: %w", err)
			return nil, s.err
		}

		switch raw.Type {
		case "tool_call", "tool_use":
			return &NormalizedEvent{Kind: EventToolCall, Tool: raw.Tool, Args: raw.Args}, nil
		case "text", "message", "assistant":
			return &NormalizedEvent{Kind: EventText, Text: raw.Text}, nil
		case "error":
			return &NormalizedEvent{Kind: EventError, Message: raw.Message}, nil
		case "completion", "result":
			s.done = true
			return &NormalizedEvent{Kind: EventCompletion, ExitCode: raw.ExitCode}, nil
		default:
			s.err = fmt.Errorf("malformed output event: unknown type %q", raw.Type)
			return nil, s.err
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("reading output stream: %w", err)
		return nil, s.err
	}
	s.done = true
	return nil, io.EOF
}

// Drain consumes the remaining stream, returning every event. Used for
// CLIs without streaming support, where output only appears after the
// process exits and consumers need the buffered whole.
func (s *EventStream) Drain() ([]NormalizedEvent, error) {
	var events []NormalizedEvent
	for {
		ev, err := s.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, *ev)
	}
}
