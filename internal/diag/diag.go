// Package diag provides the out-of-band diagnostic sink used to report
// warnings without failing a parse (spec §5, §7). The teacher's CLI entry
// points (cmd/tinysqlpage, cmd/repl, cmd/server) log exclusively through the
// standard library's "log" package and never pull in a structured logging
// dependency; we follow the same ambient choice here (see DESIGN.md for the
// justification) and lift it behind a small interface so callers can plug
// in their own sink instead of a global logger.
package diag

import (
	"fmt"
	"log"
	"sync"
)

// Severity classifies a diagnostic message.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "ERROR"
	}
	return "WARN"
}

// Message is one diagnostic event.
type Message struct {
	Severity Severity
	Session  string // parse session ID, see dissect.Session
	Source   string // component name, e.g. "version", "carver"
	Text     string
}

// Sink receives diagnostic messages. Implementations must be safe for
// concurrent use only if the embedding caller uses the engine concurrently;
// the core itself is single-threaded per spec §5.
type Sink interface {
	Diagnose(Message)
}

// StdSink is the default Sink, logging through the standard library's
// *log.Logger the way every teacher cmd/*/main.go does.
type StdSink struct {
	mu     sync.Mutex
	Logger *log.Logger
}

// NewStdSink returns a Sink that writes to log.Default().
func NewStdSink() *StdSink {
	return &StdSink{Logger: log.Default()}
}

func (s *StdSink) Diagnose(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logger.Printf("[%s] session=%s source=%s: %s", m.Severity, m.Session, m.Source, m.Text)
}

// CollectingSink accumulates messages in memory, useful for tests and for
// callers (e.g. a CASE exporter) that want to inspect warnings after a
// parse completes rather than stream them live.
type CollectingSink struct {
	mu       sync.Mutex
	Messages []Message
}

func (s *CollectingSink) Diagnose(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, m)
}

// Warnf reports a formatted warning to sink, or is a no-op if sink is nil.
func Warnf(sink Sink, session, source, format string, args ...any) {
	if sink == nil {
		return
	}
	sink.Diagnose(Message{Severity: SeverityWarning, Session: session, Source: source, Text: fmt.Sprintf(format, args...)})
}

// Errorf reports a formatted non-fatal error event to sink.
func Errorf(sink Sink, session, source, format string, args ...any) {
	if sink == nil {
		return
	}
	sink.Diagnose(Message{Severity: SeverityError, Session: session, Source: source, Text: fmt.Sprintf(format, args...)})
}
