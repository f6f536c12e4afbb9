package workflow

import (
	"context"
	"sync"
	"time"
)

// Level of a reported message.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Message is a user-visible status line.
type Message struct {
	Time     time.Time `json:"time"`
	Workflow string    `json:"workflow"`
	Level    Level     `json:"level"`
	Text     string    `json:"text"`
}

// Reporter receives user-visible messages.
type Reporter interface {
	Report(ctx context.Context, m Message)
}

// ReporterFunc adapts a func to Reporter.
type ReporterFunc func(ctx context.Context, m Message)

func (f ReporterFunc) Report(ctx context.Context, m Message) { f(ctx, m) }

// MessageLog keeps the most recent messages.
type MessageLog struct {
	mu      sync.Mutex
	entries []Message
	limit   int
}

// NewMessageLog keeps at most limit messages (default 64).
func NewMessageLog(limit int) *MessageLog {
	if limit <= 0 {
		limit = 64
	}
	return &MessageLog{limit: limit}
}

func (l *MessageLog) Report(_ context.Context, m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, m)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]Message(nil), l.entries[over:]...)
	}
}

// Latest returns the newest message, if any.
func (l *MessageLog) Latest() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return Message{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns a copy of the retained messages, oldest first.
func (l *MessageLog) Entries() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.entries...)
}
