package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// Op is a client request operation.
type Op string

const (
	OpStart Op = "start"
	OpStop  Op = "stop"
	OpState Op = "state"
)

// Request is one client to daemon line.
type Request struct {
	ID    string             `json:"id"`
	Op    Op                 `json:"op"`
	Zones *domain.ZoneLayout `json:"zones,omitempty"`
}

// MessageType tells events from responses.
type MessageType string

const (
	MessageEvent    MessageType = "event"
	MessageResponse MessageType = "response"
)

// Message is one daemon to client line.
type Message struct {
	Type    MessageType      `json:"type"`
	ID      string           `json:"id,omitempty"`
	Event   domain.EventKind `json:"event,omitempty"`
	Payload string           `json:"payload,omitempty"`
	OK      bool             `json:"ok,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// EventMessage wraps a daemon event.
func EventMessage(kind domain.EventKind, payload string) Message {
	return Message{Type: MessageEvent, Event: kind, Payload: payload}
}

// DaemonEvent returns the event carried by an event message.
func (m Message) DaemonEvent() domain.DaemonEvent {
	return domain.DaemonEvent{Kind: m.Event, Payload: m.Payload}
}

const (
	lineInitialBuffer = 64 * 1024
	lineMaxBuffer     = 4 * 1024 * 1024
)

// LineReader decodes one JSON value per line.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, lineInitialBuffer), lineMaxBuffer)
	return &LineReader{scanner: s}
}

// Next decodes the next non-empty line into v. It returns io.EOF at end of stream.
func (lr *LineReader) Next(v any) error {
	for lr.scanner.Scan() {
		line := lr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return fmt.Errorf("failed to decode line: %w", err)
		}
		return nil
	}
	if err := lr.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// LineWriter encodes values as JSON lines. Safe for concurrent use.
type LineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{enc: json.NewEncoder(w)}
}

// Write encodes v followed by a newline.
func (lw *LineWriter) Write(v any) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.enc.Encode(v)
}
