package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/morezero/jsonrpc2/pkg/events"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

func TestHandleLine_Single(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "positional params",
			line: `{"jsonrpc":"2.0","method":"subtract","params":[42,23],"id":1}`,
			want: `{"jsonrpc":"2.0","result":19,"id":1}`,
		},
		{
			name: "positional params reversed",
			line: `{"jsonrpc":"2.0","method":"subtract","params":[23,42],"id":2}`,
			want: `{"jsonrpc":"2.0","result":-19,"id":2}`,
		},
		{
			name: "named params",
			line: `{"jsonrpc":"2.0","method":"subtract","params":{"subtrahend":23,"minuend":42},"id":4}`,
			want: `{"jsonrpc":"2.0","result":19,"id":4}`,
		},
		{
			name: "string id",
			line: `{"jsonrpc":"2.0","method":"subtract","params":[1,5],"id":"abc"}`,
			want: `{"jsonrpc":"2.0","result":-4,"id":"abc"}`,
		},
		{
			name: "rest params",
			line: `{"jsonrpc":"2.0","method":"sum","params":[1,2,4],"id":"2"}`,
			want: `{"jsonrpc":"2.0","result":7,"id":"2"}`,
		},
		{
			name: "default filled",
			line: `{"jsonrpc":"2.0","method":"greet","params":["ada"],"id":3}`,
			want: `{"jsonrpc":"2.0","result":"hello, ada","id":3}`,
		},
		{
			name: "thread lane",
			line: `{"jsonrpc":"2.0","method":"get_data","id":"9"}`,
			want: `{"jsonrpc":"2.0","result":["hello",5],"id":"9"}`,
		},
		{
			name: "process lane",
			line: `{"jsonrpc":"2.0","method":"square","params":[12],"id":7}`,
			want: `{"jsonrpc":"2.0","result":144,"id":7}`,
		},
		{
			name: "parse error",
			line: `{"jsonrpc":"2.0","method":"foobar,"params":"bar","baz]`,
			want: `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":"null"}`,
		},
		{
			name: "invalid request",
			line: `{"jsonrpc":"2.0","method":1,"params":"bar"}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":"null"}`,
		},
		{
			name: "invalid request hides id",
			line: `{"jsonrpc":"2.0","method":"subtract","extra":true,"id":5}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":"null"}`,
		},
		{
			name: "method not found",
			line: `{"jsonrpc":"2.0","method":"foobar","id":"1"}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":"1"}`,
		},
		{
			name: "invalid params too few",
			line: `{"jsonrpc":"2.0","method":"subtract","params":[1],"id":6}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":6}`,
		},
		{
			name: "invalid params missing",
			line: `{"jsonrpc":"2.0","method":"subtract","id":6}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":6}`,
		},
		{
			name: "internal error",
			line: `{"jsonrpc":"2.0","method":"have_error_method","id":8}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":8}`,
		},
		{
			name: "panic is internal error",
			line: `{"jsonrpc":"2.0","method":"explode","id":8}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":8}`,
		},
		{
			name: "unencodable result is internal error",
			line: `{"jsonrpc":"2.0","method":"unencodable","id":8}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":8}`,
		},
		{
			name: "thread lane failure",
			line: `{"jsonrpc":"2.0","method":"thread_fail","id":10}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":10}`,
		},
		{
			name: "process lane failure",
			line: `{"jsonrpc":"2.0","method":"process_fail","id":11}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":11}`,
		},
		{
			name: "empty batch",
			line: `[]`,
			want: `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":"null"}`,
		},
		{
			name: "non-empty invalid batch",
			line: `[1]`,
			want: `[{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":"null"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.HandleLine(context.Background(), []byte(tt.line))
			if err != nil {
				t.Fatalf("%s - HandleLine error: %v", dispatcherTestPrefix, err)
			}
			if string(got) != tt.want {
				t.Errorf("%s - HandleLine(%s)\n got  %s\n want %s", dispatcherTestPrefix, tt.line, got, tt.want)
			}
		})
	}
}

func TestHandleLine_NotificationsProduceNothing(t *testing.T) {
	reg, seen := newTestRegistry(t)
	rec := &recorder{}
	d := NewDispatcher(reg, &Options{Publisher: rec})

	lines := []string{
		`{"jsonrpc":"2.0","method":"notify_hello","params":[7]}`,
		`{"jsonrpc":"2.0","method":"thread_echo","params":["x"]}`,
		`{"jsonrpc":"2.0","method":"square","params":[3]}`,
		`{"jsonrpc":"2.0","method":"have_error_method"}`,
		`{"jsonrpc":"2.0","method":"foobar"}`,
		`{"jsonrpc":"2.0","method":"subtract","params":[1]}`,
		`{"jsonrpc":"2.0","method":"process_fail"}`,
	}
	for _, line := range lines {
		got, err := d.HandleLine(context.Background(), []byte(line))
		if err != nil {
			t.Fatalf("%s - HandleLine(%s) error: %v", dispatcherTestPrefix, line, err)
		}
		if got != nil {
			t.Errorf("%s - HandleLine(%s) = %s, want no response", dispatcherTestPrefix, line, got)
		}
	}

	if v, ok := seen.Load("notify_hello"); !ok || v != "7" {
		t.Errorf("%s - notify_hello was not run, saw %v", dispatcherTestPrefix, v)
	}
	if v, ok := seen.Load("thread_echo"); !ok || v != "x" {
		t.Errorf("%s - thread lane notification was not awaited, saw %v", dispatcherTestPrefix, v)
	}

	got := flushEvents(t, d, rec)
	if len(got) != 4 {
		t.Fatalf("%s - expected 4 failure events, got %d", dispatcherTestPrefix, len(got))
	}
	wantCodes := []int{-32603, -32601, -32602, -32603}
	for i, e := range got {
		if !e.Notification {
			t.Errorf("%s - event %d: expected Notification = true", dispatcherTestPrefix, i)
		}
		if e.Code != wantCodes[i] {
			t.Errorf("%s - event %d: Code = %d, want %d", dispatcherTestPrefix, i, e.Code, wantCodes[i])
		}
	}
	if got[0].Detail != "secret internal detail" {
		t.Errorf("%s - Detail = %q, want the original error text", dispatcherTestPrefix, got[0].Detail)
	}
	if got[3].Lane != "process" {
		t.Errorf("%s - Lane = %q, want process", dispatcherTestPrefix, got[3].Lane)
	}
}

func TestHandleLine_InternalErrorPublishesDetail(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := &recorder{}
	d := NewDispatcher(reg, &Options{Publisher: rec})

	out, err := d.HandleLine(context.Background(), []byte(`{"jsonrpc":"2.0","method":"have_error_method","id":"e1"}`))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", dispatcherTestPrefix, err)
	}
	resp := decodeOne(t, out)
	if resp.Error == nil || resp.Error.Message != "Internal error" {
		t.Fatalf("%s - expected bare Internal error, got %s", dispatcherTestPrefix, out)
	}

	got := flushEvents(t, d, rec)
	if len(got) != 1 {
		t.Fatalf("%s - expected one event, got %d", dispatcherTestPrefix, len(got))
	}
	e := got[0]
	if e.Method != "have_error_method" || e.Lane != "inline" || string(e.ID) != `"e1"` || e.Notification {
		t.Errorf("%s - unexpected event %+v", dispatcherTestPrefix, e)
	}
	if e.Timestamp == "" {
		t.Errorf("%s - expected event timestamp", dispatcherTestPrefix)
	}
}

func TestHandleLine_RejectionsOfRequestsAreNotPublished(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := &recorder{}
	d := NewDispatcher(reg, &Options{Publisher: rec})

	for _, line := range []string{
		`{"jsonrpc":"2.0","method":"foobar","id":1}`,
		`{"jsonrpc":"2.0","method":"subtract","id":2}`,
		`not json`,
	} {
		if _, err := d.HandleLine(context.Background(), []byte(line)); err != nil {
			t.Fatalf("%s - HandleLine error: %v", dispatcherTestPrefix, err)
		}
	}
	if n := len(flushEvents(t, d, rec)); n != 0 {
		t.Errorf("%s - expected no events for answered rejections, got %d", dispatcherTestPrefix, n)
	}
}

func TestReply_Empty(t *testing.T) {
	var nilReply *Reply
	if !nilReply.Empty() {
		t.Errorf("%s - nil reply should be empty", dispatcherTestPrefix)
	}
	out, err := (&Reply{}).Encode()
	if err != nil || out != nil {
		t.Errorf("%s - empty reply Encode = %s, %v; want nil, nil", dispatcherTestPrefix, out, err)
	}
}

func TestPoolStats(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	stats := d.PoolStats()
	if len(stats) != 2 {
		t.Fatalf("%s - expected 2 pools, got %d", dispatcherTestPrefix, len(stats))
	}
	if stats[0].Name != "thread" || stats[1].Name != "process" {
		t.Errorf("%s - unexpected pool names %q, %q", dispatcherTestPrefix, stats[0].Name, stats[1].Name)
	}
	for _, s := range stats {
		if s.Size != 4 {
			t.Errorf("%s - %s pool size = %d, want 4", dispatcherTestPrefix, s.Name, s.Size)
		}
	}
}

// stalledPublisher blocks every delivery until release is closed or ctx ends.
type stalledPublisher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *stalledPublisher) PublishFailed(ctx context.Context, _ *events.InvocationFailedEvent) error {
	p.calls.Add(1)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestHandleLine_StalledPublisherDoesNotDelayReply(t *testing.T) {
	reg, _ := newTestRegistry(t)
	pub := &stalledPublisher{release: make(chan struct{})}
	d := NewDispatcher(reg, &Options{Publisher: pub, FailureQueueSize: 1, PublishTimeout: time.Minute})
	defer func() {
		close(pub.release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Close(ctx); err != nil {
			t.Errorf("%s - Close: %v", dispatcherTestPrefix, err)
		}
	}()

	start := time.Now()
	for i := 0; i < 5; i++ {
		out, err := d.HandleLine(context.Background(), []byte(`{"jsonrpc":"2.0","method":"have_error_method","id":1}`))
		if err != nil {
			t.Fatalf("%s - HandleLine error: %v", dispatcherTestPrefix, err)
		}
		resp := decodeOne(t, out)
		if resp.Error == nil || resp.Error.Code != -32603 {
			t.Fatalf("%s - expected Internal error, got %s", dispatcherTestPrefix, out)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("%s - replies took %v behind a stalled publisher", dispatcherTestPrefix, elapsed)
	}
}

func TestHandleLine_ModuleMethods(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "slash separator",
			line: `{"jsonrpc":"2.0","method":"document/add","params":[42,23],"id":1}`,
			want: `{"jsonrpc":"2.0","result":19,"id":1}`,
		},
		{
			name: "dot separator",
			line: `{"jsonrpc":"2.0","method":"document.add","params":{"minuend":5,"subtrahend":1},"id":2}`,
			want: `{"jsonrpc":"2.0","result":4,"id":2}`,
		},
		{
			name: "thread lane",
			line: `{"jsonrpc":"2.0","method":"document.echo","params":["x"],"id":3}`,
			want: `{"jsonrpc":"2.0","result":"x","id":3}`,
		},
		{
			name: "process lane",
			line: `{"jsonrpc":"2.0","method":"document.square","params":[6],"id":4}`,
			want: `{"jsonrpc":"2.0","result":36,"id":4}`,
		},
		{
			name: "nested name",
			line: `{"jsonrpc":"2.0","method":"document.open.add","params":[1,2],"id":5}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":5}`,
		},
		{
			name: "empty segment",
			line: `{"jsonrpc":"2.0","method":"document..open","id":6}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":6}`,
		},
		{
			name: "bad params",
			line: `{"jsonrpc":"2.0","method":"document/add","params":[1],"id":7}`,
			want: `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":7}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.HandleLine(context.Background(), []byte(tt.line))
			if err != nil {
				t.Fatalf("%s - HandleLine error: %v", dispatcherTestPrefix, err)
			}
			if string(got) != tt.want {
				t.Errorf("%s - HandleLine(%s) = %s, want %s", dispatcherTestPrefix, tt.line, got, tt.want)
			}
		})
	}
}
