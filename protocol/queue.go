package protocol

import (
	"sync"
	"time"
)

// repeatableKeys is the allow-list of commands that may be coalesced while
// a button is held. Everything else is queued verbatim.
var repeatableKeys = map[string]bool{
	"volup":   true,
	"voldown": true,
	"left":    true,
	"right":   true,
}

// Entry is one queued remote event. Entries are created by the USB read
// loop and destroyed by the sender loop.
type Entry struct {
	Payload    map[string]any
	Created    time.Time
	CommandKey string
	Count      int
	Priority   bool
}

// Queue decouples the blocking USB read loop from the network-bound
// sender loop. It is bounded, lossy, and deduplicates rapidly repeating
// button events while still reporting their progress: a coalesced key
// emits a priority copy carrying the current count at most once per
// priority interval, so the consumer sees movement during a long
// key-repeat instead of only a final snapshot.
type Queue struct {
	mu           sync.Mutex
	entries      []*Entry
	byKey        map[string]*Entry
	lastPriority map[string]time.Time

	capacity         int
	expiry           time.Duration
	priorityInterval time.Duration
	now              func() time.Time
}

// NewQueue creates an intake queue with the given capacity, entry expiry
// and priority-emission interval.
func NewQueue(capacity int, expiry, priorityInterval time.Duration) *Queue {
	return &Queue{
		byKey:            make(map[string]*Entry),
		lastPriority:     make(map[string]time.Time),
		capacity:         capacity,
		expiry:           expiry,
		priorityInterval: priorityInterval,
		now:              time.Now,
	}
}

// Add enqueues an entry. A repeatable command with an unexpired live entry
// bumps that entry's count and refreshes its timestamp instead of growing
// the queue.
func (q *Queue) Add(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	if repeatableKeys[e.CommandKey] {
		if cur, ok := q.byKey[e.CommandKey]; ok && now.Sub(cur.Created) < q.expiry {
			cur.Count++
			cur.Created = now
			if last, seen := q.lastPriority[e.CommandKey]; !seen || now.Sub(last) > q.priorityInterval {
				snapshot := *cur
				snapshot.Priority = true
				q.entries = append(q.entries, &snapshot)
				q.lastPriority[e.CommandKey] = now
			}
			q.trim()
			return
		}
	}

	e.Created = now
	if e.Count == 0 {
		e.Count = 1
	}
	q.entries = append(q.entries, e)
	if repeatableKeys[e.CommandKey] {
		q.byKey[e.CommandKey] = e
	}
	q.trim()
}

// Get drops expired entries and pops the oldest survivor, or nil if the
// queue is empty.
func (q *Queue) Get() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.Created) < q.expiry {
			kept = append(kept, e)
		}
	}
	q.entries = kept

	if len(q.entries) == 0 {
		return nil
	}

	e := q.entries[0]
	q.entries = q.entries[1:]

	if e.CommandKey != "" {
		if !q.keyLive(e.CommandKey) {
			delete(q.byKey, e.CommandKey)
			delete(q.lastPriority, e.CommandKey)
		} else if q.byKey[e.CommandKey] == e {
			// Ownership of e passes to the caller. Coalescing for the
			// still-live key continues on a detached copy so later Adds
			// never mutate an entry the consumer is reading.
			detached := *e
			q.byKey[e.CommandKey] = &detached
		}
	}
	return e
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) keyLive(key string) bool {
	for _, e := range q.entries {
		if e.CommandKey == key {
			return true
		}
	}
	return false
}

// trim evicts the oldest non-priority entries beyond capacity. Priority
// entries always survive eviction.
func (q *Queue) trim() {
	for len(q.entries) > q.capacity {
		evicted := false
		for i, e := range q.entries {
			if !e.Priority {
				if q.byKey[e.CommandKey] == e {
					delete(q.byKey, e.CommandKey)
				}
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}
