package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the ledger when no capacity is configured.
const DefaultCapacity = 1000

// Action is the kind of lifecycle or traffic event being recorded.
type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionCrash       Action = "crash"
	ActionRestart     Action = "restart"
	ActionRateLimited Action = "rate_limited"
	ActionProxyError  Action = "proxy_error"
)

// Entry is one immutable ledger record. Entries are stamped on append and
// never mutated afterwards.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Service   string    `json:"service"`
	Detail    string    `json:"detail,omitempty"`
}

// Ledger is a bounded, append-only ring buffer of orchestration events.
// At capacity the oldest entry is evicted first. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	start    int // index of the oldest entry
	count    int
	now      func() time.Time
}

// New creates a ledger holding at most capacity entries.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append records an event with the current timestamp, evicting the oldest
// entry when the ledger is full.
func (l *Ledger) Append(action Action, service, detail string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Action:    action,
		Service:   service,
		Detail:    detail,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < l.capacity {
		l.entries[(l.start+l.count)%l.capacity] = e
		l.count++
	} else {
		l.entries[l.start] = e
		l.start = (l.start + 1) % l.capacity
	}
	return e
}

// Recent returns up to n most recent entries in insertion order
// (oldest of the returned slice first).
func (l *Ledger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Entry, 0, n)
	for i := l.count - n; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%l.capacity])
	}
	return out
}

// Filter returns up to n most recent entries for one service, in
// insertion order. n <= 0 means no limit.
func (l *Ledger) Filter(service string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	matched := make([]Entry, 0, 16)
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.start+i)%l.capacity]
		if e.Service == service {
			matched = append(matched, e)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}

// Len returns the number of entries currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
