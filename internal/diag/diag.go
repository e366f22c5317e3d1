// Package diag provides a bounded, non-fatal diagnostics sink for the
// analyzer's recoverable error kinds (spec §7): UnknownNode and
// AmbiguousExclusion. A pathological input file can produce an
// unbounded number of these; the sink caps total bytes retained with
// github.com/armon/circbuf so one bad file can't exhaust memory during
// one Analyze call.
package diag

import (
	"fmt"

	"github.com/armon/circbuf"
	"github.com/sirupsen/logrus"
)

// Kind identifies a non-fatal analyzer event.
type Kind string

const (
	KindUnknownNode        Kind = "unknown_node"
	KindAmbiguousExclusion Kind = "ambiguous_exclusion"
)

// Event is one recorded non-fatal diagnostic.
type Event struct {
	Kind Kind
	File string
	Line int
	Msg  string
}

// defaultCapacity bounds the ring buffer backing the sink; well past
// any file that would realistically trigger hundreds of warnings.
const defaultCapacity = 64 * 1024

// Sink accumulates non-fatal events for one Analyze call (or a whole
// AnalyzeAll run) and forwards each to a logger as it arrives.
type Sink struct {
	buf *circbuf.Buffer
	log logrus.FieldLogger
	n   int
}

// NewSink creates a bounded sink. log may be nil, in which case events
// are only retained, not logged.
func NewSink(log logrus.FieldLogger) *Sink {
	buf, _ := circbuf.NewBuffer(defaultCapacity) // fixed capacity; error impossible for size > 0
	return &Sink{buf: buf, log: log}
}

// Record appends an event to the ring buffer and, if a logger is
// configured, emits it as a structured warning.
func (s *Sink) Record(kind Kind, file string, line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.n++
	line1 := fmt.Sprintf("%s:%d: [%s] %s\n", file, line, kind, msg)
	_, _ = s.buf.Write([]byte(line1))
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"kind": string(kind),
			"file": file,
			"line": line,
		}).Warn(msg)
	}
}

// Count returns the number of events recorded (not bounded by buffer
// capacity — only the retained text is bounded).
func (s *Sink) Count() int { return s.n }

// String returns the retained diagnostic text, truncated to the ring
// buffer's capacity if more was recorded than it can hold.
func (s *Sink) String() string {
	if s.buf == nil {
		return ""
	}
	return s.buf.String()
}
