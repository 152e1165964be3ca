// Package trace adapts host-side trace and write calls into log entries for
// the batching sink. It owns the per-call context capture (time, goroutine,
// stack, process) so the sink itself stays independent of the host.
package trace

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/dbtrace/internal/models"
	"github.com/smartdevs17/dbtrace/pkg/utils"
)

// Appender is the sink contract the listener writes into.
type Appender interface {
	Append(entry models.LogEntry)
	Flush(ctx context.Context)
	Close() error
}

// EventCache is the context a host dispatcher supplies with a structured
// trace call.
type EventCache struct {
	Time      time.Time
	ThreadID  string
	ProcessID int
}

// Option customizes a Listener.
type Option func(*Listener)

// WithStackCapture toggles stack capture. skip drops additional frames above
// the listener's caller, for hosts that wrap the listener.
func WithStackCapture(enabled bool, skip int) Option {
	return func(l *Listener) {
		l.captureStack = enabled
		l.stackSkip = skip
	}
}

// WithClock replaces the time source used for plain writes.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// WithDiagnostics sets the logger used to report rejected calls.
func WithDiagnostics(logger *logrus.Logger) Option {
	return func(l *Listener) {
		l.diag = logger.WithField("component", utils.DiagnosticComponent)
	}
}

// Listener turns trace and write calls into log entries.
type Listener struct {
	sink  Appender
	host  HostInfo
	intro Introspector

	now          func() time.Time
	captureStack bool
	stackSkip    int
	diag         *logrus.Entry
}

// NewListener creates a listener feeding sink. host is captured once and
// stamped on every entry.
func NewListener(sink Appender, host HostInfo, intro Introspector, opts ...Option) *Listener {
	l := &Listener{
		sink:         sink,
		host:         host,
		intro:        intro,
		now:          time.Now,
		captureStack: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.diag == nil {
		WithDiagnostics(utils.NewDiagnosticLogger("warning", "text", os.Stderr))(l)
	}
	return l
}

// Host returns the process identity stamped on entries.
func (l *Listener) Host() HostInfo {
	return l.host
}

// TraceEvent records a structured event carrying a text message.
func (l *Listener) TraceEvent(cache EventCache, source string, eventType models.EventType, id int, message string) {
	l.emitTrace(cache, source, eventType, id, message)
}

// TraceData records a structured event carrying an arbitrary payload. A nil
// payload is a caller error: no entry is created.
func (l *Listener) TraceData(cache EventCache, source string, eventType models.EventType, id int, data any) {
	if data == nil {
		l.rejectNil("TraceData")
		return
	}
	l.emitTrace(cache, source, eventType, id, fmt.Sprint(data))
}

// Write records a plain, uncategorized message.
func (l *Listener) Write(message string) {
	l.emitMessage("", message)
}

// WriteCategory records a plain message under category.
func (l *Listener) WriteCategory(message, category string) {
	l.emitMessage(category, message)
}

// WriteValue records the string form of v. A nil v creates no entry.
func (l *Listener) WriteValue(v any) {
	if v == nil {
		l.rejectNil("WriteValue")
		return
	}
	l.emitMessage("", fmt.Sprint(v))
}

// WriteValueCategory records the string form of v under category.
func (l *Listener) WriteValueCategory(v any, category string) {
	if v == nil {
		l.rejectNil("WriteValueCategory")
		return
	}
	l.emitMessage(category, fmt.Sprint(v))
}

// WriteLine is Write; entries are rows, so there is no line terminator.
func (l *Listener) WriteLine(message string) {
	l.emitMessage("", message)
}

// WriteLineCategory is WriteCategory.
func (l *Listener) WriteLineCategory(message, category string) {
	l.emitMessage(category, message)
}

// Flush forces the sink to write what it has queued.
func (l *Listener) Flush(ctx context.Context) {
	l.sink.Flush(ctx)
}

// Close flushes and closes the sink.
func (l *Listener) Close() error {
	return l.sink.Close()
}

func (l *Listener) emitTrace(cache EventCache, source string, eventType models.EventType, id int, message string) {
	created := cache.Time
	if created.IsZero() {
		created = l.now()
	}
	threadID := cache.ThreadID
	if threadID == "" {
		threadID = l.intro.ThreadID()
	}
	pid := cache.ProcessID
	if pid == 0 {
		pid = l.host.ProcessID
	}

	l.sink.Append(models.NewLogEntry(
		created,
		eventType.String(),
		message,
		l.stack(),
		threadID,
		l.intro.ProcessName(pid),
		pid,
		int32(id),
		source,
		l.host.MachineName,
	))
}

func (l *Listener) emitMessage(category, message string) {
	l.sink.Append(models.NewMessageEntry(
		l.now(),
		category,
		message,
		l.stack(),
		l.intro.ThreadID(),
		l.host.ProcessName,
		l.host.ProcessID,
		l.host.MachineName,
	))
}

// stack is only called from emitTrace and emitMessage, which are only called
// directly from exported methods, so three frames separate it from the
// listener's caller.
func (l *Listener) stack() string {
	if !l.captureStack {
		return ""
	}
	return l.intro.StackTrace(3 + l.stackSkip)
}

func (l *Listener) rejectNil(method string) {
	l.diag.WithField("method", method).Debug("Nil payload ignored")
}
