package events

import (
	"context"
	"errors"
)

// EventPublisher is the interface for publishing invocation failure events.
type EventPublisher interface {
	PublishFailed(ctx context.Context, event *InvocationFailedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishFailed is a no-op.
func (p *NoOpPublisher) PublishFailed(_ context.Context, _ *InvocationFailedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *InvocationFailedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *InvocationFailedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishFailed calls the callback.
func (p *CallbackPublisher) PublishFailed(ctx context.Context, event *InvocationFailedEvent) error {
	return p.callback(ctx, event)
}

// FanOut delivers each event to every publisher in order. All publishers are
// attempted; their errors are joined.
type FanOut []EventPublisher

// NewFanOut drops nil publishers and returns the rest as one publisher.
func NewFanOut(pubs ...EventPublisher) FanOut {
	out := make(FanOut, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PublishFailed publishes to each member publisher.
func (f FanOut) PublishFailed(ctx context.Context, event *InvocationFailedEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishFailed(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
