package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Severity represents log message severity levels
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity returns the severity with the given name, case insensitive.
func ParseSeverity(s string) (Severity, bool) {
	for sev := SeverityDebug; sev <= SeverityError; sev++ {
		if strings.EqualFold(s, sev.String()) {
			return sev, true
		}
	}
	return SeverityInfo, false
}

// Logger is the logging contract of the diagnostic engine. Mismatch reports,
// forensics notifications and boot reports all go through it.
type Logger interface {
	// Log logs a message with the specified severity
	Log(severity Severity, msg string)

	// Logf logs a formatted message with the specified severity
	Logf(severity Severity, format string, args ...interface{})

	// Error logs an error
	Error(err error)

	// Debug logs a debug message
	Debug(msg string)

	// Info logs an info message
	Info(msg string)

	// Warning logs a warning message
	Warning(msg string)
}

// StdLogger implements the Logger interface using Go's standard logger
type StdLogger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	minLevel   Severity
}

// NewStdLogger creates a new standard logger
func NewStdLogger(minLevel Severity) *StdLogger {
	return NewStdLoggerWithWriter(os.Stdout, os.Stderr, minLevel)
}

// NewStdLoggerWithWriter creates a new standard logger with custom writers
func NewStdLoggerWithWriter(stdout, stderr io.Writer, minLevel Severity) *StdLogger {
	return &StdLogger{
		debugLog:   log.New(stdout, "DEBUG: ", log.Ltime|log.Lmicroseconds),
		infoLog:    log.New(stdout, "INFO: ", log.Ltime),
		warningLog: log.New(stdout, "WARNING: ", log.Ltime),
		errorLog:   log.New(stderr, "ERROR: ", log.Ltime),
		minLevel:   minLevel,
	}
}

// Log logs a message with the specified severity
func (l *StdLogger) Log(severity Severity, msg string) {
	if severity < l.minLevel {
		return
	}

	switch severity {
	case SeverityDebug:
		l.debugLog.Output(2, msg)
	case SeverityInfo:
		l.infoLog.Output(2, msg)
	case SeverityWarning:
		l.warningLog.Output(2, msg)
	case SeverityError:
		l.errorLog.Output(2, msg)
	}
}

// Logf logs a formatted message with the specified severity
func (l *StdLogger) Logf(severity Severity, format string, args ...interface{}) {
	if severity < l.minLevel {
		return
	}
	l.Log(severity, fmt.Sprintf(format, args...))
}

// Error logs an error
func (l *StdLogger) Error(err error) {
	if err != nil {
		l.Log(SeverityError, err.Error())
	}
}

// Debug logs a debug message
func (l *StdLogger) Debug(msg string) {
	l.Log(SeverityDebug, msg)
}

// Info logs an info message
func (l *StdLogger) Info(msg string) {
	l.Log(SeverityInfo, msg)
}

// Warning logs a warning message
func (l *StdLogger) Warning(msg string) {
	l.Log(SeverityWarning, msg)
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Log(severity Severity, msg string)                         {}
func (l *NoOpLogger) Logf(severity Severity, format string, args ...interface{}) {}
func (l *NoOpLogger) Error(err error)                                           {}
func (l *NoOpLogger) Debug(msg string)                                          {}
func (l *NoOpLogger) Info(msg string)                                           {}
func (l *NoOpLogger) Warning(msg string)                                        {}

// Entry is a single message kept by a Recorder.
type Entry struct {
	Severity Severity
	Message  string
}

func (e Entry) String() string {
	return e.Severity.String() + ": " + e.Message
}

// Recorder is a Logger that keeps the most recent entries in a ring and
// optionally forwards every entry to another Logger.
//
// Logging may happen from the fault handlers as well as the foreground loop,
// so the ring is guarded.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	wrapped bool
	counts  [SeverityError + 1]int
	forward Logger
}

// NewRecorder creates a recorder holding at most size entries. The forward
// logger may be nil.
func NewRecorder(size int, forward Logger) *Recorder {
	if size <= 0 {
		size = 1
	}
	return &Recorder{
		entries: make([]Entry, size),
		forward: forward,
	}
}

// Log records a message with the specified severity
func (r *Recorder) Log(severity Severity, msg string) {
	r.mu.Lock()
	r.entries[r.next] = Entry{Severity: severity, Message: msg}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.wrapped = true
	}
	if severity >= SeverityDebug && severity <= SeverityError {
		r.counts[severity]++
	}
	r.mu.Unlock()

	if r.forward != nil {
		r.forward.Log(severity, msg)
	}
}

// Logf records a formatted message with the specified severity
func (r *Recorder) Logf(severity Severity, format string, args ...interface{}) {
	r.Log(severity, fmt.Sprintf(format, args...))
}

// Error records an error
func (r *Recorder) Error(err error) {
	if err != nil {
		r.Log(SeverityError, err.Error())
	}
}

func (r *Recorder) Debug(msg string)   { r.Log(SeverityDebug, msg) }
func (r *Recorder) Info(msg string)    { r.Log(SeverityInfo, msg) }
func (r *Recorder) Warning(msg string) { r.Log(SeverityWarning, msg) }

// Entries returns the retained entries, oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.wrapped {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// Count returns how many messages of the given severity have been logged,
// including ones no longer retained.
func (r *Recorder) Count(severity Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if severity < SeverityDebug || severity > SeverityError {
		return 0
	}
	return r.counts[severity]
}

// Contains returns true if any retained entry contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Tail writes the last n retained entries to w.
func (r *Recorder) Tail(w io.Writer, n int) {
	entries := r.Entries()
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[len(entries)-n:] {
		io.WriteString(w, e.String()+"\n")
	}
}

// Reset discards all retained entries and counts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.wrapped = false
	r.counts = [SeverityError + 1]int{}
}
