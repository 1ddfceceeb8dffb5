package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/morezero/jsonrpc2/pkg/events"
	"github.com/morezero/jsonrpc2/pkg/protocol"
	"github.com/morezero/jsonrpc2/pkg/registry"
)

const invokeLogPrefix = "dispatcher:invoke"

// ErrCallTimeout is reported (internally) when a call outlives the configured call timeout.
var ErrCallTimeout = errors.New("call timed out")

// Invoke runs a classified call on its method's lane and returns the encoded result.
// Any error is internal detail; clients only ever see InternalError for it.
func (d *Dispatcher) Invoke(ctx context.Context, call *Call) (json.RawMessage, error) {
	if call == nil || call.Method == nil {
		return nil, fmt.Errorf("%s - call is not classified", invokeLogPrefix)
	}
	m := call.Method

	switch m.Lane {
	case registry.LaneInline:
		return d.withTimeout(ctx, func(ctx context.Context) (json.RawMessage, error) {
			return runHandler(ctx, m, call.Args)
		})
	case registry.LaneThread:
		return d.withTimeout(ctx, func(ctx context.Context) (json.RawMessage, error) {
			var (
				out json.RawMessage
				err error
			)
			if perr := d.threads.Do(ctx, func() { out, err = runHandler(ctx, m, call.Args) }); perr != nil {
				return nil, perr
			}
			return out, err
		})
	case registry.LaneProcess:
		return d.withTimeout(ctx, func(ctx context.Context) (json.RawMessage, error) {
			return d.process.Execute(ctx, m.Name, call.Args)
		})
	default:
		return nil, fmt.Errorf("%s - %s: unknown lane %s", invokeLogPrefix, m.Name, m.Lane)
	}
}

// respond classifies one element, runs it and turns the outcome into a response.
// A nil response means nothing may be written for this element.
func (d *Dispatcher) respond(ctx context.Context, raw json.RawMessage) *protocol.Response {
	call, perr := Classify(raw, d.registry, d.version)
	if perr != nil {
		return d.reject(ctx, call, perr)
	}

	result, err := d.Invoke(ctx, call)
	if err != nil {
		d.reportFailure(ctx, call, protocol.ErrInternal(), err)
		if call.IsNotification() {
			return nil
		}
		return protocol.NewErrorResponse(call.Request.ID, protocol.ErrInternal())
	}
	if call.IsNotification() {
		return nil
	}
	return protocol.NewSuccess(call.Request.ID, result)
}

// reject builds the response for a classification error. ParseError and InvalidRequest are
// always answered; the other errors are suppressed for notifications.
func (d *Dispatcher) reject(ctx context.Context, call *Call, perr *protocol.Error) *protocol.Response {
	if call == nil || perr.HidesID() {
		slog.Debug(fmt.Sprintf("%s - rejected payload: %s", invokeLogPrefix, perr.Message))
		return protocol.NewErrorResponse(nil, perr)
	}
	if call.IsNotification() {
		d.reportFailure(ctx, call, perr, nil)
		return nil
	}
	slog.Debug(fmt.Sprintf("%s - rejected %s id=%s: %s", invokeLogPrefix, call.Request.Method, call.Request.ID, perr.Message))
	return protocol.NewErrorResponse(call.Request.ID, perr)
}

// reportFailure logs a failure with its detail and queues it for publishing. It never blocks.
func (d *Dispatcher) reportFailure(ctx context.Context, call *Call, perr *protocol.Error, detail error) {
	event := &events.InvocationFailedEvent{
		Method:       call.Request.Method,
		Lane:         call.Lane(),
		ID:           call.Request.ID,
		Notification: call.IsNotification(),
		Code:         perr.Code,
		Message:      perr.Message,
	}
	if detail != nil {
		event.Detail = detail.Error()
	}
	event.Stamp()

	if detail != nil {
		slog.Error(fmt.Sprintf("%s - %s on %s lane failed (notification=%t): %v",
			invokeLogPrefix, event.Method, event.Lane, event.Notification, detail))
	} else {
		slog.Warn(fmt.Sprintf("%s - notification %s dropped: %s", invokeLogPrefix, event.Method, perr.Message))
	}

	if err := d.failures.PublishFailed(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failure event for %s not queued: %v", invokeLogPrefix, event.Method, err))
	}
}

// withTimeout bounds fn by the configured call timeout. fn keeps running after the deadline
// if it ignores ctx; its result is then discarded.
func (d *Dispatcher) withTimeout(ctx context.Context, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if d.callTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	type outcome struct {
		out json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := fn(ctx)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s - %w after %s", invokeLogPrefix, ErrCallTimeout, d.callTimeout)
		}
		return nil, ctx.Err()
	}
}

// runHandler calls an Inline or Thread lane body, recovering panics and encoding the result.
func runHandler(ctx context.Context, m *registry.Method, args *registry.Args) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug(fmt.Sprintf("%s - %s panic stack: %s", invokeLogPrefix, m.Name, debug.Stack()))
			out, err = nil, fmt.Errorf("%s - %s panicked: %v", invokeLogPrefix, m.Name, r)
		}
	}()

	h := m.Handler()
	if h == nil {
		return nil, fmt.Errorf("%s - %s has no handler", invokeLogPrefix, m.Name)
	}
	v, err := h(ctx, args)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode result of %s: %w", invokeLogPrefix, m.Name, err)
	}
	return data, nil
}
