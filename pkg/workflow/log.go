package workflow

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// LogLevel classifies a run log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogError   LogLevel = "error"
	LogStep    LogLevel = "step"
)

// PreviewLimit is the number of runes kept by Preview.
const PreviewLimit = 100

// LogEntry is one record of a run's progress.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	NodeID    string    `json:"nodeId,omitempty"`
	Data      string    `json:"data,omitempty"`
}

// Observer receives log entries as they are appended.
type Observer func(LogEntry)

// RunLog is the append-only log of a single run. Entries are forwarded to
// the observer in order and mirrored to slog.
type RunLog struct {
	mu       sync.Mutex
	entries  []LogEntry
	observer Observer
	logger   *slog.Logger
	runID    string
}

func newRunLog(runID string, logger *slog.Logger, obs Observer) *RunLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLog{runID: runID, logger: logger, observer: obs}
}

// Append records a new entry and returns it.
func (l *RunLog) Append(level LogLevel, message, nodeID, data string) LogEntry {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		NodeID:    nodeID,
		Data:      data,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	obs := l.observer
	l.mu.Unlock()

	attrs := []any{"run", l.runID, "level", string(level)}
	if nodeID != "" {
		attrs = append(attrs, "node", nodeID)
	}
	if level == LogError {
		l.logger.Error(message, attrs...)
	} else {
		l.logger.Info(message, attrs...)
	}

	if obs != nil {
		obs(entry)
	}
	return entry
}

// Entries returns a copy of the log so far.
func (l *RunLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Preview truncates s to PreviewLimit runes, appending "..." when cut.
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewLimit]) + "..."
}
