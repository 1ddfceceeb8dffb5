package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/jsonrpc2/pkg/commsutil"
)

const commsLogPrefix = "transport:comms"

// CommsServerOpts configures CommsServer. Nil or zero values use defaults.
type CommsServerOpts struct {
	// Subject overrides the request subject (e.g. from RPC_SUBJECT).
	Subject string
	// Queue overrides the queue group shared by server instances.
	Queue string
}

// CommsServer serves JSON-RPC over COMMS request/reply: each message body is one line and
// the reply, if any, is published to the message's reply subject. When the line produces no
// response nothing is published, so the requester times out.
type CommsServer struct {
	nc      *comms.Conn
	handler Handler
	subject string
	queue   string

	mu      sync.Mutex
	sub     *comms.Subscription
	stopped bool
	wg      sync.WaitGroup
}

// NewCommsServer creates a new CommsServer. Pass nil for opts to use defaults.
func NewCommsServer(nc *comms.Conn, h Handler, opts *CommsServerOpts) *CommsServer {
	s := &CommsServer{nc: nc, handler: h, subject: commsutil.SubjectRPC, queue: commsutil.QueueRPC}
	if opts != nil {
		if opts.Subject != "" {
			s.subject = opts.Subject
		}
		if opts.Queue != "" {
			s.queue = opts.Queue
		}
	}
	return s
}

// Subject returns the request subject.
func (s *CommsServer) Subject() string {
	return s.subject
}

// Start subscribes to the request subject. Messages are handled concurrently; ctx is
// passed to every handled line.
func (s *CommsServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("%s - already subscribed to %s", commsLogPrefix, s.subject)
	}

	s.stopped = false
	sub, err := s.nc.QueueSubscribe(s.subject, s.queue, func(msg *comms.Msg) {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			slog.Debug(fmt.Sprintf("%s - dropping message on %s after Stop", commsLogPrefix, msg.Subject))
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.handle(ctx, msg)
		}()
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, s.subject, err)
	}
	s.sub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s (queue %s)", commsLogPrefix, s.subject, s.queue))
	return nil
}

// Stop unsubscribes and waits for in-flight messages. Messages delivered after Stop are
// dropped unanswered.
func (s *CommsServer) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.stopped = true
	s.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("%s - unsubscribe %s: %w", commsLogPrefix, s.subject, err)
	}
	return nil
}

func (s *CommsServer) handle(ctx context.Context, msg *comms.Msg) {
	out, err := s.handler.HandleLine(ctx, msg.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to handle message on %s: %v", commsLogPrefix, msg.Subject, err))
		return
	}
	if out == nil {
		return
	}
	if msg.Reply == "" {
		slog.Debug(fmt.Sprintf("%s - dropping reply, message on %s has no reply subject", commsLogPrefix, msg.Subject))
		return
	}
	if err := msg.Respond(out); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond on %s: %v", commsLogPrefix, msg.Reply, err))
	}
}
