// Package debuglog records non-fatal internal failures for later inspection.
// Emitting never fails and never blocks on a consumer.
package debuglog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/threaddeck/internal/logger"
)

// DefaultCapacity is used when a buffer is created with a non-positive size.
const DefaultCapacity = 200

// Entry is one debug record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Label     string    `json:"label"`
	Payload   any       `json:"payload,omitempty"`
}

// Sink accepts debug records.
type Sink interface {
	Emit(entry Entry)
}

// Buffer keeps the most recent entries in a ring and mirrors each one to the
// logger at warn level.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	log     *logger.Logger
	now     func() time.Time
}

var _ Sink = (*Buffer)(nil)

// NewBuffer creates a ring buffer holding up to capacity entries.
func NewBuffer(capacity int, log *logger.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = logger.Global()
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		log:     log.WithPrefix("debug"),
		now:     time.Now,
	}
}

// Emit stores entry, filling in ID and Timestamp when absent.
func (b *Buffer) Emit(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	b.mu.Lock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = b.now()
	}
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	b.log.Warn("%s %s: %s", entry.Source, entry.Label, payloadString(entry.Payload))
}

// Entries returns the buffered entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]Entry(nil), b.entries[:b.next]...)
	}
	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Emit(Entry) {}

func payloadString(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case error:
		return p.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "<unserializable payload>"
	}
	return string(data)
}
