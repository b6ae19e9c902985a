package joblog

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one line in a job's processing log.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Stage     string    `json:"stage"`
	FileID    string    `json:"file_id,omitempty"`
	Message   string    `json:"message"`
}

// Sink receives per-job log entries. Implementations must never fail the
// caller; logging is advisory and a sink problem must not affect a run.
type Sink interface {
	Append(jobID string, e Entry)
	Tail(jobID string, n int) []Entry
}

// Buffer is an in-memory Sink holding a bounded number of entries per job.
// Oldest entries are discarded once a job exceeds the capacity.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  map[string][]Entry
}

// NewBuffer creates a Buffer keeping at most capacity entries per job.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		capacity: capacity,
		entries:  make(map[string][]Entry),
	}
}

func (b *Buffer) Append(jobID string, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := append(b.entries[jobID], e)
	if len(list) > b.capacity {
		list = list[len(list)-b.capacity:]
	}
	b.entries[jobID] = list
}

func (b *Buffer) Tail(jobID string, n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.entries[jobID]
	if n <= 0 || n >= len(list) {
		n = len(list)
	}
	out := make([]Entry, n)
	copy(out, list[len(list)-n:])
	return out
}

// Drop releases a finished job's entries.
func (b *Buffer) Drop(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, jobID)
}

// Logger writes stage-scoped entries for one job to a Sink and mirrors them
// to the global zap logger.
type Logger struct {
	jobID string
	sink  Sink
}

// New creates a Logger for the given job.
func New(jobID string, sink Sink) *Logger {
	return &Logger{jobID: jobID, sink: sink}
}

func (l *Logger) log(level, stage, fileID, msg string) {
	if l == nil || l.sink == nil {
		return
	}
	l.sink.Append(l.jobID, Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Stage:     stage,
		FileID:    fileID,
		Message:   msg,
	})

	fields := []zap.Field{
		zap.String("job_id", l.jobID),
		zap.String("stage", stage),
	}
	if fileID != "" {
		fields = append(fields, zap.String("file_id", fileID))
	}
	switch level {
	case "error":
		zap.L().Error(msg, fields...)
	case "warn":
		zap.L().Warn(msg, fields...)
	default:
		zap.L().Info(msg, fields...)
	}
}

// Info records an informational entry.
func (l *Logger) Info(stage, msg string) { l.log("info", stage, "", msg) }

// Warn records a warning entry.
func (l *Logger) Warn(stage, msg string) { l.log("warn", stage, "", msg) }

// Error records an error entry.
func (l *Logger) Error(stage, msg string) { l.log("error", stage, "", msg) }

// FileInfo records an informational entry scoped to one file.
func (l *Logger) FileInfo(stage, fileID, msg string) { l.log("info", stage, fileID, msg) }

// FileWarn records a warning entry scoped to one file.
func (l *Logger) FileWarn(stage, fileID, msg string) { l.log("warn", stage, fileID, msg) }

// FileError records an error entry scoped to one file.
func (l *Logger) FileError(stage, fileID, msg string) { l.log("error", stage, fileID, msg) }
