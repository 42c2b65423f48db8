package queue

import (
	"context"
	"time"
)

// Message is one delayed delivery pulled from the queue.
type Message struct {
	ID       string `json:"id"`
	Body     []byte `json:"body"`
	Attempts int    `json:"attempts"`
}

// DelayQueue holds messages invisible until a per-message delay elapses and
// redelivers failed messages up to a bounded attempt count. Delivery is
// at-least-once; consumers must be idempotent.
type DelayQueue interface {
	// Enqueue stores body and makes it visible after delay.
	Enqueue(ctx context.Context, body []byte, delay time.Duration) (string, error)

	// Pull returns up to max currently visible messages and leases them for
	// the queue's visibility window.
	Pull(ctx context.Context, max int) ([]Message, error)

	// Ack removes a message permanently.
	Ack(ctx context.Context, id string) error

	// Fail marks a delivery failed: the message is rescheduled, or moved to
	// the dead-letter sink once its attempts are exhausted.
	Fail(ctx context.Context, id string) error

	// Close releases queue resources.
	Close() error
}
