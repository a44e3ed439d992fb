package message

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCollaboratorUnavailable is returned when no endpoint accepts a message.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrMailboxClosed is returned when sending to a stopped mailbox.
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrDeadLetterFull is returned when the dead-letter queue is at capacity.
	ErrDeadLetterFull = errors.New("dead-letter queue full")

	// ErrMalformed wraps every Decode failure.
	ErrMalformed = errors.New("malformed message")
)

// Endpoint accepts messages for one collaborator.
type Endpoint interface {
	Send(ctx context.Context, msg Message) error
}

// Directory resolves the endpoint for an agent.
type Directory interface {
	Endpoint(agent Agent) (Endpoint, bool)
}

// Routes is a static Directory.
type Routes map[Agent]Endpoint

// Endpoint implements Directory.
func (r Routes) Endpoint(agent Agent) (Endpoint, bool) {
	ep, ok := r[agent]
	return ep, ok && ep != nil
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(ctx context.Context, msg Message) error

// Send implements Endpoint.
func (f EndpointFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// DeadLetter is a bounded in-memory queue of undeliverable messages. It is
// the fallback target when a collaborator's breaker rejects a dispatch.
type DeadLetter struct {
	mu       sync.Mutex
	capacity int
	msgs     []Message
}

// NewDeadLetter returns a queue holding at most capacity messages.
func NewDeadLetter(capacity int) *DeadLetter {
	if capacity <= 0 {
		capacity = 1024
	}
	return &DeadLetter{capacity: capacity}
}

// Send implements Endpoint.
func (d *DeadLetter) Send(_ context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.msgs) >= d.capacity {
		return ErrDeadLetterFull
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

// Len returns the number of queued messages.
func (d *DeadLetter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

// Drain removes and returns every queued message.
func (d *DeadLetter) Drain() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.msgs
	d.msgs = nil
	return out
}
