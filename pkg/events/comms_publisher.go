package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/jsonrpc2/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// FailureSubject overrides the global failure subject (e.g. from FAILURE_EVENT_SUBJECT).
	FailureSubject string
}

// CommsPublisher publishes invocation failure events to COMMS subjects.
type CommsPublisher struct {
	nc             *comms.Conn
	failureSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectFailed
	if opts != nil && opts.FailureSubject != "" {
		subject = opts.FailureSubject
	}
	return &CommsPublisher{nc: nc, failureSubject: subject}
}

// Subject returns the global failure subject.
func (p *CommsPublisher) Subject() string {
	return p.failureSubject
}

// PublishFailed publishes an InvocationFailedEvent to both the per-method
// and global failure subjects.
func (p *CommsPublisher) PublishFailed(_ context.Context, event *InvocationFailedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	methodSubject := commsutil.BuildFailedSubject(p.failureSubject, event.Method)
	if err := p.nc.Publish(methodSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, methodSubject, err))
		return err
	}

	if err := p.nc.Publish(p.failureSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.failureSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published failure event for %s (code %d)", commsPublisherLogPrefix, event.Method, event.Code))
	return nil
}
