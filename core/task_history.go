package core

import (
	"sync"
	"time"
)

// HistoryCapacity is the number of entries kept per task name.
const HistoryCapacity = 10

// HistoryEntry is one successful routed invocation.
type HistoryEntry struct {
	Result     any
	ExecTime   time.Duration
	Sequence   uint64
	FinishedAt time.Time
}

// executionHistory is a fixed-capacity ring; the oldest entry is overwritten first.
type executionHistory struct {
	items []HistoryEntry
	head  int
	count int
	seq   uint64
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = HistoryCapacity
	}
	return &executionHistory{items: make([]HistoryEntry, capacity)}
}

func (h *executionHistory) add(entry HistoryEntry) {
	h.seq++
	entry.Sequence = h.seq
	h.items[h.head] = entry
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// oldestFirst copies the ring, oldest entry at index 0.
func (h *executionHistory) oldestFirst() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.count)
	start := (h.head - h.count + len(h.items)) % len(h.items)
	for i := range h.count {
		out = append(out, h.items[(start+i)%len(h.items)])
	}
	return out
}

// TaskHistory keeps a bounded log of successful invocations per task name.
type TaskHistory struct {
	mu       sync.Mutex
	capacity int
	byName   map[string]*executionHistory
}

// NewTaskHistory creates a TaskHistory holding HistoryCapacity entries per name.
func NewTaskHistory() *TaskHistory {
	return &TaskHistory{capacity: HistoryCapacity, byName: make(map[string]*executionHistory)}
}

// Add appends an entry for name, evicting the oldest one beyond capacity.
// Entries are sequenced in the order Add is called.
func (t *TaskHistory) Add(name string, result any, execTime time.Duration, finishedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byName[name]
	if !ok {
		h = newExecutionHistory(t.capacity)
		t.byName[name] = h
	}
	h.add(HistoryEntry{Result: result, ExecTime: execTime, FinishedAt: finishedAt})
}

// Snapshot returns a copy of the entries for name, oldest first.
// Unknown names yield an empty slice.
func (t *TaskHistory) Snapshot(name string) []HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byName[name]
	if !ok {
		return []HistoryEntry{}
	}
	return h.oldestFirst()
}

// Last returns the most recent entry for name.
func (t *TaskHistory) Last(name string) (HistoryEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byName[name]
	if !ok || h.count == 0 {
		return HistoryEntry{}, false
	}
	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
