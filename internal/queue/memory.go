package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	body      []byte
	visibleAt time.Time
	attempts  int
}

// MemoryQueue implements DelayQueue in process memory with the same
// visibility, retry, and dead-letter semantics as the Redis queue. It backs
// tests and local smoke runs.
type MemoryQueue struct {
	mu          sync.Mutex
	items       map[string]*memoryItem
	dead        []Message
	visibility  time.Duration
	retryDelay  time.Duration
	maxAttempts int

	now func() time.Time
}

// MemoryOption adjusts a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithClock replaces the queue clock, letting tests control visibility
// without sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

// NewMemoryQueue creates an in-memory delay queue.
func NewMemoryQueue(visibility, retryDelay time.Duration, maxAttempts int, opts ...MemoryOption) *MemoryQueue {
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	q := &MemoryQueue{
		items:       make(map[string]*memoryItem),
		visibility:  visibility,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores body and makes it visible after delay.
func (q *MemoryQueue) Enqueue(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	stored := make([]byte, len(body))
	copy(stored, body)
	q.items[id] = &memoryItem{body: stored, visibleAt: q.now().Add(delay)}
	return id, nil
}

// Pull returns up to max visible messages, leasing them for the visibility
// window. Messages are returned oldest-first for deterministic tests.
func (q *MemoryQueue) Pull(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	type entry struct {
		id   string
		item *memoryItem
	}
	var visible []entry
	for id, item := range q.items {
		if !item.visibleAt.After(now) {
			visible = append(visible, entry{id, item})
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].item.visibleAt.Before(visible[j].item.visibleAt)
	})
	if len(visible) > max {
		visible = visible[:max]
	}

	out := make([]Message, 0, len(visible))
	for _, e := range visible {
		e.item.visibleAt = now.Add(q.visibility)
		out = append(out, Message{ID: e.id, Body: e.item.body, Attempts: e.item.attempts})
	}
	return out, nil
}

// Ack removes a message permanently.
func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	return nil
}

// Fail reschedules a message or dead-letters it after max attempts.
func (q *MemoryQueue) Fail(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil
	}
	item.attempts++
	if item.attempts >= q.maxAttempts {
		q.dead = append(q.dead, Message{ID: id, Body: item.body, Attempts: item.attempts})
		delete(q.items, id)
		return nil
	}
	item.visibleAt = q.now().Add(q.retryDelay)
	return nil
}

// DeadLetters returns the messages moved to the dead-letter sink.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close is a no-op for the in-memory queue.
func (q *MemoryQueue) Close() error {
	return nil
}
