package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/jsonrpc2/pkg/protocol"
	"github.com/morezero/jsonrpc2/pkg/registry"
)

const batchLogPrefix = "dispatcher:batch"

// partition holds the element indexes routed to each lane, in request order.
type partition struct {
	inline  []int
	thread  []int
	process []int
}

func (d *Dispatcher) partition(elements []json.RawMessage) partition {
	var p partition
	for i, raw := range elements {
		switch peekLane(raw, d.registry) {
		case registry.LaneThread:
			p.thread = append(p.thread, i)
		case registry.LaneProcess:
			p.process = append(p.process, i)
		default:
			p.inline = append(p.inline, i)
		}
	}
	return p
}

// HandleBatch processes the elements of one batch and reassembles the responses.
//
// Thread and Process lane elements are started first and run concurrently, bounded by their
// pools; inline elements then run one after another on the calling goroutine. The reply waits
// for every element, including notifications. Responses are ordered inline, thread, process,
// each lane keeping request order. An empty batch is a single InvalidRequest response, and a
// batch that produced no responses is an empty Reply.
func (d *Dispatcher) HandleBatch(ctx context.Context, elements []json.RawMessage) *Reply {
	if len(elements) == 0 {
		return &Reply{Response: protocol.NewErrorResponse(nil, protocol.ErrInvalidRequest())}
	}

	p := d.partition(elements)
	slog.Debug(fmt.Sprintf("%s - batch of %d: inline=%d thread=%d process=%d",
		batchLogPrefix, len(elements), len(p.inline), len(p.thread), len(p.process)))

	slots := make([]*protocol.Response, len(elements))

	var g errgroup.Group
	for _, lane := range [][]int{p.thread, p.process} {
		for _, i := range lane {
			g.Go(func() error {
				slots[i] = d.respond(ctx, elements[i])
				return nil
			})
		}
	}

	for _, i := range p.inline {
		slots[i] = d.respond(ctx, elements[i])
	}
	_ = g.Wait()

	var out []*protocol.Response
	for _, lane := range [][]int{p.inline, p.thread, p.process} {
		for _, i := range lane {
			if slots[i] != nil {
				out = append(out, slots[i])
			}
		}
	}
	if len(out) == 0 {
		return &Reply{}
	}
	return &Reply{Batch: out}
}
