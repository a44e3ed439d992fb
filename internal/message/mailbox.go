package message

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler processes a delivered message.
type Handler func(ctx context.Context, msg Message) error

// Mailbox is an in-process endpoint backed by a bounded channel and a single
// delivery goroutine. Send blocks while the mailbox is full.
type Mailbox struct {
	agent   Agent
	ch      chan Message
	handler Handler
	logger  *zap.Logger
	now     func() time.Time

	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMailbox creates a mailbox for agent holding up to capacity pending messages.
func NewMailbox(agent Agent, capacity int, handler Handler, logger *zap.Logger) *Mailbox {
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{
		agent:   agent,
		ch:      make(chan Message, capacity),
		handler: handler,
		logger:  logger.With(zap.String("agent", string(agent))),
		now:     time.Now,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Agent returns the owning agent.
func (m *Mailbox) Agent() Agent { return m.agent }

// Start launches the delivery loop. Calling it more than once has no effect.
func (m *Mailbox) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// Send enqueues msg, waiting for space until ctx ends.
func (m *Mailbox) Send(ctx context.Context, msg Message) error {
	select {
	case <-m.quit:
		return ErrMailboxClosed
	default:
	}

	select {
	case m.ch <- msg:
		return nil
	case <-m.quit:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued messages.
func (m *Mailbox) Pending() int { return len(m.ch) }

// Close stops accepting messages, delivers what is queued and waits for the
// loop to exit. Close before Start discards the queue.
func (m *Mailbox) Close() {
	m.stopOnce.Do(func() { close(m.quit) })
	// Never started: nothing to wait for, and Start becomes a no-op.
	m.startOnce.Do(func() { close(m.done) })
	<-m.done
}

func (m *Mailbox) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case msg := <-m.ch:
			m.deliver(ctx, msg)
		case <-m.quit:
			m.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mailbox) drain(ctx context.Context) {
	for {
		select {
		case msg := <-m.ch:
			m.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (m *Mailbox) deliver(ctx context.Context, msg Message) {
	if msg.Expired(m.now()) {
		m.logger.Warn("dropping expired message",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(msg.Kind)))
		return
	}
	if m.handler == nil {
		return
	}
	if err := m.handler(ctx, msg); err != nil {
		m.logger.Warn("message handler failed",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(msg.Kind)),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
	}
}
