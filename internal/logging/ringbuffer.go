package logging

import (
	"log/slog"
	"sync"
	"time"
)

// AppLogEntry represents an application log entry exposed over the API.
type AppLogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`  // "debug", "info", "warn", "error"
	Source    string            `json:"source"` // "rcon", "supervisor", "api", etc.
	Message   string            `json:"message"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// LevelFromSlog converts a slog.Level to its string form.
func LevelFromSlog(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// RingBuffer is a thread-safe circular buffer for log entries.
type RingBuffer struct {
	entries []AppLogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		entries: make([]AppLogEntry, size),
		size:    size,
	}
}

// Add adds an entry to the ring buffer.
func (rb *RingBuffer) Add(entry AppLogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// GetAll returns all entries in chronological order.
func (rb *RingBuffer) GetAll() []AppLogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]AppLogEntry, 0, rb.count)
	if rb.count == 0 {
		return result
	}

	start := 0
	if rb.count == rb.size {
		start = rb.head
	}
	for i := 0; i < rb.count; i++ {
		result = append(result, rb.entries[(start+i)%rb.size])
	}
	return result
}

// GetLast returns up to n most recent entries in chronological order.
func (rb *RingBuffer) GetLast(n int) []AppLogEntry {
	all := rb.GetAll()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of buffered entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

var (
	appLogBuffer     *RingBuffer
	appLogBufferOnce sync.Once
)

// GetAppLogBuffer returns the process-wide log buffer used by the API.
func GetAppLogBuffer() *RingBuffer {
	appLogBufferOnce.Do(func() {
		appLogBuffer = NewRingBuffer(2048)
	})
	return appLogBuffer
}
