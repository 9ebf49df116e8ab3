package session

import "sync"

// DefaultLogCapacity bounds the per-session message log. The cap is a
// retention policy: replay beyond the retained window is not guaranteed.
const DefaultLogCapacity = 500

// Role identifies who produced a logged turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one logged conversation turn.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Seq       int    `json:"seq"`
}

// Log is a fixed-capacity record of conversation turns. When full, the
// oldest entry is evicted. Entries are insertion-ordered and, because seq
// values are minted monotonically, also seq-ordered.
type Log struct {
	mu       sync.RWMutex
	buf      []Message
	capacity int
	pos      int // next write position
	full     bool
}

// NewLog creates a log with the given capacity.
func NewLog(capacity int) *Log {
	return &Log{
		buf:      make([]Message, capacity),
		capacity: capacity,
	}
}

// Append adds a turn to the log, evicting the oldest if full.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.pos] = msg
	l.pos = (l.pos + 1) % l.capacity
	if l.pos == 0 {
		l.full = true
	}
}

// Len returns the number of retained turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return l.capacity
	}
	return l.pos
}

// All returns the retained turns in insertion order.
func (l *Log) All() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot()
}

// Since returns the suffix of retained turns with seq strictly greater
// than the argument, in log order.
func (l *Log) Since(seq int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.snapshot()
	// Entries are seq-ordered; find the first one past the cutoff.
	for i, msg := range all {
		if msg.Seq > seq {
			return all[i:]
		}
	}
	return nil
}

func (l *Log) snapshot() []Message {
	if !l.full {
		result := make([]Message, l.pos)
		copy(result, l.buf[:l.pos])
		return result
	}
	result := make([]Message, l.capacity)
	copy(result, l.buf[l.pos:])
	copy(result[l.capacity-l.pos:], l.buf[:l.pos])
	return result
}
