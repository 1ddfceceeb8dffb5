// Package dispatcher validates JSON-RPC payloads, runs them on their method's execution lane
// and assembles the wire response.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/jsonrpc2/pkg/events"
	"github.com/morezero/jsonrpc2/pkg/lanes"
	"github.com/morezero/jsonrpc2/pkg/protocol"
	"github.com/morezero/jsonrpc2/pkg/registry"
	"github.com/morezero/jsonrpc2/pkg/semver"
)

const logPrefix = "dispatcher:dispatcher"

// Options configures a Dispatcher. Nil or zero values use defaults.
type Options struct {
	// ThreadPool bounds Thread lane calls. Defaults to a pool of lanes.DefaultPoolSize.
	ThreadPool *lanes.Pool
	// Process runs Process lane calls. Defaults to an in-process IsolatedExecutor.
	Process lanes.ProcessExecutor
	// Publisher receives failure events off the request path. Defaults to NoOpPublisher.
	Publisher events.EventPublisher
	// FailureQueueSize bounds undelivered failure events; further events are dropped.
	FailureQueueSize int
	// PublishTimeout bounds each delivery to Publisher.
	PublishTimeout time.Duration
	// Version, when set, rejects requests whose jsonrpc member does not satisfy it.
	Version *semver.VersionPolicy
	// CallTimeout bounds each call; zero means no timeout.
	CallTimeout time.Duration
}

// Dispatcher turns one line of input into zero or one unit of output.
// It is safe for concurrent use by many connections.
type Dispatcher struct {
	registry    *registry.Registry
	threads     *lanes.Pool
	process     lanes.ProcessExecutor
	failures    *events.AsyncPublisher
	version     *semver.VersionPolicy
	callTimeout time.Duration
}

// NewDispatcher creates a new Dispatcher over reg. Pass nil for opts to use defaults.
func NewDispatcher(reg *registry.Registry, opts *Options) *Dispatcher {
	if opts == nil {
		opts = &Options{}
	}
	d := &Dispatcher{
		registry:    reg,
		threads:     opts.ThreadPool,
		process:     opts.Process,
		version:     opts.Version,
		callTimeout: opts.CallTimeout,
	}
	if d.threads == nil {
		d.threads = lanes.NewPool("thread", lanes.DefaultPoolSize)
	}
	if d.process == nil {
		d.process = lanes.NewIsolatedExecutor(reg, lanes.DefaultPoolSize)
	}
	d.failures = events.NewAsyncPublisher(opts.Publisher, &events.AsyncPublisherOpts{
		QueueSize: opts.FailureQueueSize,
		Timeout:   opts.PublishTimeout,
	})
	return d
}

// Reply is the outcome of one line: a single response, a batch, or nothing.
type Reply struct {
	Response *protocol.Response
	Batch    []*protocol.Response
}

// Empty reports whether nothing may be written back.
func (r *Reply) Empty() bool {
	return r == nil || (r.Response == nil && len(r.Batch) == 0)
}

// Encode returns the wire form of the reply, or nil for an empty reply.
func (r *Reply) Encode() ([]byte, error) {
	switch {
	case r.Empty():
		return nil, nil
	case len(r.Batch) > 0:
		return protocol.EncodeBatch(r.Batch)
	default:
		return json.Marshal(r.Response)
	}
}

// Handle decodes one line and processes it as a single request or a batch.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) *Reply {
	msg, perr := protocol.Decode(line)
	if perr != nil {
		slog.Debug(fmt.Sprintf("%s - undecodable line (%d bytes)", logPrefix, len(line)))
		return &Reply{Response: protocol.NewErrorResponse(nil, perr)}
	}
	if msg.Batch {
		return d.HandleBatch(ctx, msg.Elements)
	}
	if resp := d.respond(ctx, msg.Single); resp != nil {
		return &Reply{Response: resp}
	}
	return &Reply{}
}

// HandleLine processes one line and returns the bytes to write back, or nil when
// no response may be sent.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte) ([]byte, error) {
	out, err := d.Handle(ctx, line).Encode()
	if err != nil {
		return nil, fmt.Errorf("%s - encode reply: %w", logPrefix, err)
	}
	return out, nil
}

// Registry returns the registry the dispatcher resolves methods from.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// FlushFailures waits until failure events reported so far have been delivered.
func (d *Dispatcher) FlushFailures(ctx context.Context) error {
	return d.failures.Flush(ctx)
}

// Close stops failure delivery after draining the queue, or when ctx ends.
// Transports must be stopped first.
func (d *Dispatcher) Close(ctx context.Context) error {
	return d.failures.Close(ctx)
}

// PoolStats reports the Thread and Process lane pools.
func (d *Dispatcher) PoolStats() []lanes.PoolStats {
	return []lanes.PoolStats{d.threads.Stats(), d.process.Stats()}
}
