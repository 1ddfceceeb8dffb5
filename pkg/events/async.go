package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const asyncLogPrefix = "events:async"

const (
	// DefaultQueueSize is how many failure events may wait for delivery.
	DefaultQueueSize = 256
	// DefaultPublishTimeout bounds one delivery to the wrapped publisher.
	DefaultPublishTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned when an event is dropped because delivery is behind.
	ErrQueueFull = errors.New("failure event queue full")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("publisher closed")
)

// AsyncPublisherOpts configures AsyncPublisher. Nil or zero values use defaults.
type AsyncPublisherOpts struct {
	QueueSize int
	Timeout   time.Duration
}

// AsyncPublisher queues events and delivers them to the wrapped publisher from one goroutine,
// in order, each under its own timeout. PublishFailed never blocks; a full queue drops the event.
type AsyncPublisher struct {
	inner   EventPublisher
	timeout time.Duration
	queue   chan asyncItem
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type asyncItem struct {
	event   *InvocationFailedEvent
	flushed chan struct{}
}

// NewAsyncPublisher starts the delivery goroutine. Call Close to stop it.
func NewAsyncPublisher(inner EventPublisher, opts *AsyncPublisherOpts) *AsyncPublisher {
	size, timeout := DefaultQueueSize, DefaultPublishTimeout
	if opts != nil {
		if opts.QueueSize > 0 {
			size = opts.QueueSize
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
	}
	if inner == nil {
		inner = &NoOpPublisher{}
	}
	p := &AsyncPublisher{
		inner:   inner,
		timeout: timeout,
		queue:   make(chan asyncItem, size),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishFailed enqueues event. The caller's ctx is not used for delivery, so a finished
// request does not cancel its own failure report.
func (p *AsyncPublisher) PublishFailed(_ context.Context, event *InvocationFailedEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- asyncItem{event: event}:
		return nil
	default:
		return fmt.Errorf("%s - dropped event for %s: %w", asyncLogPrefix, event.Method, ErrQueueFull)
	}
}

// Flush waits until every event queued before the call has been delivered or timed out.
func (p *AsyncPublisher) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPublisherClosed
	}
	select {
	case p.queue <- asyncItem{flushed: marker}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queued ones until ctx ends.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s - %d events undelivered: %w", asyncLogPrefix, len(p.queue), ctx.Err())
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for item := range p.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.inner.PublishFailed(ctx, item.event)
		cancel()
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish failure event for %s: %v", asyncLogPrefix, item.event.Method, err))
		}
	}
}
