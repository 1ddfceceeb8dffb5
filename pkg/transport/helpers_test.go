package transport

import (
	"context"
	"testing"

	"github.com/morezero/jsonrpc2/pkg/dispatcher"
	"github.com/morezero/jsonrpc2/pkg/registry"
)

func newTestDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	reg := registry.NewRegistry()
	subtract := func(_ context.Context, args *registry.Args) (any, error) {
		var a, b int
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		if err := args.Decode(1, &b); err != nil {
			return nil, err
		}
		return a - b, nil
	}
	if err := reg.Register("subtract", subtract, registry.LaneInline,
		registry.WithParams(registry.Required("minuend"), registry.Required("subtrahend"))); err != nil {
		t.Fatalf("transport:helpers_test - register subtract: %v", err)
	}
	if err := reg.Register("ping", func(context.Context, *registry.Args) (any, error) {
		return "pong", nil
	}, registry.LaneThread); err != nil {
		t.Fatalf("transport:helpers_test - register ping: %v", err)
	}
	return dispatcher.NewDispatcher(reg, nil)
}
