package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/jsonrpc2/pkg/events"
	"github.com/morezero/jsonrpc2/pkg/registry"
)

func subtract(_ context.Context, args *registry.Args) (any, error) {
	var a, b float64
	if err := args.Decode(0, &a); err != nil {
		return nil, err
	}
	if err := args.Decode(1, &b); err != nil {
		return nil, err
	}
	return a - b, nil
}

func square(args *registry.Args) (any, error) {
	var n int
	if err := args.Decode(0, &n); err != nil {
		return nil, err
	}
	return n * n, nil
}

// recorder collects published failure events.
type recorder struct {
	mu     sync.Mutex
	events []*events.InvocationFailedEvent
}

func (r *recorder) PublishFailed(_ context.Context, e *events.InvocationFailedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []*events.InvocationFailedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.InvocationFailedEvent(nil), r.events...)
}

// flushEvents waits for queued failure events to reach rec and returns them.
func flushEvents(t *testing.T, d *Dispatcher, rec *recorder) []*events.InvocationFailedEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.FlushFailures(ctx); err != nil {
		t.Fatalf("dispatcher:helpers_test - FlushFailures: %v", err)
	}
	return rec.snapshot()
}

// newTestRegistry registers methods on all three lanes.
func newTestRegistry(t *testing.T) (*registry.Registry, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	reg := registry.NewRegistry()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("dispatcher:helpers_test - register failed: %v", err)
		}
	}

	must(reg.Register("subtract", subtract, registry.LaneInline,
		registry.WithParams(registry.Required("minuend"), registry.Required("subtrahend"))))
	must(reg.Register("sum", func(_ context.Context, args *registry.Args) (any, error) {
		var nums []float64
		if err := registry.DecodeRest(args, &nums); err != nil {
			return nil, err
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total, nil
	}, registry.LaneInline, registry.WithRest()))
	must(reg.Register("greet", func(_ context.Context, args *registry.Args) (any, error) {
		var name, greeting string
		if err := args.Lookup("name", &name); err != nil {
			return nil, err
		}
		if err := args.Lookup("greeting", &greeting); err != nil {
			return nil, err
		}
		return greeting + ", " + name, nil
	}, registry.LaneInline, registry.WithParams(registry.Required("name"), registry.Optional("greeting", "hello"))))
	must(reg.Register("notify_hello", func(_ context.Context, args *registry.Args) (any, error) {
		var v json.RawMessage
		_ = args.Decode(0, &v)
		seen.Store("notify_hello", string(v))
		return nil, nil
	}, registry.LaneInline, registry.WithParams(registry.Required("value"))))
	must(reg.Register("have_error_method", func(context.Context, *registry.Args) (any, error) {
		return nil, errors.New("secret internal detail")
	}, registry.LaneInline))
	must(reg.Register("explode", func(context.Context, *registry.Args) (any, error) {
		panic("kaboom")
	}, registry.LaneInline))
	must(reg.Register("unencodable", func(context.Context, *registry.Args) (any, error) {
		return func() {}, nil
	}, registry.LaneInline))

	must(reg.Register("get_data", func(context.Context, *registry.Args) (any, error) {
		return []any{"hello", 5}, nil
	}, registry.LaneThread))
	must(reg.Register("thread_echo", func(_ context.Context, args *registry.Args) (any, error) {
		var v any
		if err := args.Decode(0, &v); err != nil {
			return nil, err
		}
		seen.Store("thread_echo", v)
		return v, nil
	}, registry.LaneThread, registry.WithParams(registry.Required("value"))))
	must(reg.Register("thread_fail", func(context.Context, *registry.Args) (any, error) {
		return nil, errors.New("thread failure")
	}, registry.LaneThread))

	must(reg.RegisterProcess("square", square, registry.WithParams(registry.Required("n"))))
	must(reg.RegisterProcess("process_fail", func(*registry.Args) (any, error) {
		return nil, errors.New("process failure")
	}))

	doc, err := registry.NewModule("document")
	must(err)
	must(doc.Register("add", subtract, registry.LaneInline,
		registry.WithParams(registry.Required("minuend"), registry.Required("subtrahend"))))
	must(doc.Register("echo", func(_ context.Context, args *registry.Args) (any, error) {
		var v any
		if err := args.Decode(0, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, registry.LaneThread, registry.WithParams(registry.Required("value"))))
	must(doc.RegisterProcess("square", square, registry.WithParams(registry.Required("n"))))
	must(reg.RegisterModule(doc))
	return reg, seen
}

type wireResp struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

func decodeOne(t *testing.T, data []byte) wireResp {
	t.Helper()
	var r wireResp
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("dispatcher:helpers_test - response %s is not an object: %v", data, err)
	}
	return r
}

func decodeBatch(t *testing.T, data []byte) []wireResp {
	t.Helper()
	var rs []wireResp
	if err := json.Unmarshal(data, &rs); err != nil {
		t.Fatalf("dispatcher:helpers_test - response %s is not an array: %v", data, err)
	}
	return rs
}
