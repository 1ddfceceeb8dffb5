package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/jsonrpc2/pkg/lanes"
	"github.com/morezero/jsonrpc2/pkg/registry"
)

const batchTestPrefix = "dispatcher:batch_test"

func TestHandleBatch_SubtractPair(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	line := `[{"jsonrpc":"2.0","method":"subtract","params":[1,5],"id":"1"},` +
		`{"jsonrpc":"2.0","method":"subtract","params":[42,23],"id":"2"}]`
	out, err := d.HandleLine(context.Background(), []byte(line))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}

	got := map[string]string{}
	for _, r := range decodeBatch(t, out) {
		if r.JSONRPC != "2.0" {
			t.Errorf("%s - jsonrpc = %q", batchTestPrefix, r.JSONRPC)
		}
		if _, dup := got[string(r.ID)]; dup {
			t.Errorf("%s - id %s answered twice", batchTestPrefix, r.ID)
		}
		got[string(r.ID)] = string(r.Result)
	}
	want := map[string]string{`"1"`: "-4", `"2"`: "19"}
	if len(got) != len(want) {
		t.Fatalf("%s - got %d responses, want %d: %s", batchTestPrefix, len(got), len(want), out)
	}
	for id, result := range want {
		if got[id] != result {
			t.Errorf("%s - id %s result = %s, want %s", batchTestPrefix, id, got[id], result)
		}
	}
}

func TestHandleBatch_LaneOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	line := `[` +
		`{"jsonrpc":"2.0","method":"square","params":[3],"id":"p1"},` +
		`{"jsonrpc":"2.0","method":"thread_echo","params":["a"],"id":"t1"},` +
		`{"jsonrpc":"2.0","method":"subtract","params":[5,1],"id":"i1"},` +
		`{"jsonrpc":"2.0","method":"square","params":[4],"id":"p2"},` +
		`{"jsonrpc":"2.0","method":"thread_echo","params":["b"],"id":"t2"},` +
		`{"jsonrpc":"2.0","method":"nope","id":"i2"},` +
		`{"jsonrpc":"2.0","method":"thread_echo","params":["c"]}` +
		`]`
	out, err := d.HandleLine(context.Background(), []byte(line))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}

	rs := decodeBatch(t, out)
	wantIDs := []string{`"i1"`, `"i2"`, `"t1"`, `"t2"`, `"p1"`, `"p2"`}
	if len(rs) != len(wantIDs) {
		t.Fatalf("%s - got %d responses, want %d: %s", batchTestPrefix, len(rs), len(wantIDs), out)
	}
	for i, want := range wantIDs {
		if string(rs[i].ID) != want {
			t.Errorf("%s - position %d id = %s, want %s", batchTestPrefix, i, rs[i].ID, want)
		}
	}
	if string(rs[4].Result) != "9" || string(rs[5].Result) != "16" {
		t.Errorf("%s - process results not correlated: %s", batchTestPrefix, out)
	}
	if rs[1].Error == nil || rs[1].Error.Code != -32601 {
		t.Errorf("%s - expected MethodNotFound for i2, got %s", batchTestPrefix, out)
	}
}

func TestHandleBatch_MixedValidity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	line := `[` +
		`{"jsonrpc":"2.0","method":"sum","params":[1,2,4],"id":"1"},` +
		`{"jsonrpc":"2.0","method":"notify_hello","params":[7]},` +
		`{"jsonrpc":"2.0","method":"subtract","params":[42,23],"id":"2"},` +
		`{"foo":"boo"},` +
		`{"jsonrpc":"2.0","method":"foo.get","params":{"name":"myself"},"id":"5"},` +
		`{"jsonrpc":"2.0","method":"get_data","id":"9"}` +
		`]`
	out, err := d.HandleLine(context.Background(), []byte(line))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}

	rs := decodeBatch(t, out)
	if len(rs) != 5 {
		t.Fatalf("%s - got %d responses, want 5: %s", batchTestPrefix, len(rs), out)
	}
	byID := map[string]wireResp{}
	for _, r := range rs {
		byID[string(r.ID)] = r
	}
	if string(byID[`"1"`].Result) != "7" {
		t.Errorf("%s - sum result = %s", batchTestPrefix, byID[`"1"`].Result)
	}
	if string(byID[`"2"`].Result) != "19" {
		t.Errorf("%s - subtract result = %s", batchTestPrefix, byID[`"2"`].Result)
	}
	if r := byID[`"null"`]; r.Error == nil || r.Error.Code != -32600 {
		t.Errorf("%s - expected InvalidRequest with id \"null\", got %s", batchTestPrefix, out)
	}
	if r := byID[`"5"`]; r.Error == nil || r.Error.Code != -32601 {
		t.Errorf("%s - expected MethodNotFound for id 5, got %s", batchTestPrefix, out)
	}
	if string(byID[`"9"`].Result) != `["hello",5]` {
		t.Errorf("%s - get_data result = %s", batchTestPrefix, byID[`"9"`].Result)
	}
}

func TestHandleBatch_InvalidElements(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	out, err := d.HandleLine(context.Background(), []byte(`[1,2,3]`))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}
	rs := decodeBatch(t, out)
	if len(rs) != 3 {
		t.Fatalf("%s - got %d responses, want 3", batchTestPrefix, len(rs))
	}
	for i, r := range rs {
		if r.Error == nil || r.Error.Code != -32600 || string(r.ID) != `"null"` {
			t.Errorf("%s - element %d: want InvalidRequest with id \"null\", got %+v", batchTestPrefix, i, r)
		}
	}
}

func TestHandleBatch_AllNotifications(t *testing.T) {
	reg, seen := newTestRegistry(t)
	rec := &recorder{}
	d := NewDispatcher(reg, &Options{Publisher: rec})

	line := `[` +
		`{"jsonrpc":"2.0","method":"notify_hello","params":[1]},` +
		`{"jsonrpc":"2.0","method":"thread_echo","params":["z"]},` +
		`{"jsonrpc":"2.0","method":"square","params":[2]},` +
		`{"jsonrpc":"2.0","method":"thread_fail"}` +
		`]`
	out, err := d.HandleLine(context.Background(), []byte(line))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}
	if out != nil {
		t.Fatalf("%s - expected no response, got %s", batchTestPrefix, out)
	}
	if v, _ := seen.Load("thread_echo"); v != "z" {
		t.Errorf("%s - thread notification not awaited before reply, saw %v", batchTestPrefix, v)
	}
	evs := flushEvents(t, d, rec)
	if len(evs) != 1 || evs[0].Method != "thread_fail" || evs[0].Lane != "thread" {
		t.Errorf("%s - expected one thread_fail event, got %+v", batchTestPrefix, evs)
	}
}

func TestHandleBatch_ThreadLaneRunsConcurrently(t *testing.T) {
	reg := registry.NewRegistry()
	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(context.Context, *registry.Args) (any, error) {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return "met", nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("peer never arrived")
		}
	}
	if err := reg.Register("meet", rendezvous, registry.LaneThread); err != nil {
		t.Fatalf("%s - Register failed: %v", batchTestPrefix, err)
	}

	d := NewDispatcher(reg, &Options{ThreadPool: lanes.NewPool("thread", 2)})
	out, err := d.HandleLine(context.Background(), []byte(
		`[{"jsonrpc":"2.0","method":"meet","id":1},{"jsonrpc":"2.0","method":"meet","id":2}]`))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}
	for _, r := range decodeBatch(t, out) {
		if string(r.Result) != `"met"` {
			t.Errorf("%s - id %s did not run concurrently: %s", batchTestPrefix, r.ID, out)
		}
	}
}

func TestHandleLine_CallTimeout(t *testing.T) {
	reg := registry.NewRegistry()
	block := make(chan struct{})
	defer close(block)
	if err := reg.Register("hang", func(ctx context.Context, _ *registry.Args) (any, error) {
		select {
		case <-block:
		case <-time.After(5 * time.Second):
		}
		return "late", nil
	}, registry.LaneThread); err != nil {
		t.Fatalf("%s - Register failed: %v", batchTestPrefix, err)
	}

	rec := &recorder{}
	d := NewDispatcher(reg, &Options{Publisher: rec, CallTimeout: 50 * time.Millisecond})

	start := time.Now()
	out, err := d.HandleLine(context.Background(), []byte(`{"jsonrpc":"2.0","method":"hang","id":1}`))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("%s - timeout not applied, took %s", batchTestPrefix, elapsed)
	}
	r := decodeOne(t, out)
	if r.Error == nil || r.Error.Code != -32603 {
		t.Fatalf("%s - expected Internal error, got %s", batchTestPrefix, out)
	}
	evs := flushEvents(t, d, rec)
	if len(evs) != 1 || evs[0].Detail == "" {
		t.Fatalf("%s - expected timeout event with detail, got %+v", batchTestPrefix, evs)
	}
}

func TestInvoke_Unclassified(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)
	if _, err := d.Invoke(context.Background(), &Call{}); err == nil {
		t.Errorf("%s - expected error for unclassified call", batchTestPrefix)
	}
}

func TestHandleBatch_MemberNamesRouteExactly(t *testing.T) {
	reg, _ := newTestRegistry(t)
	d := NewDispatcher(reg, nil)

	line := `[` +
		`{"jsonrpc":"2.0","method":"square","params":[4],"id":"p1"},` +
		`{"jsonrpc":"2.0","method":"thread_echo","params":["a"],"id":"t1"},` +
		`{"jsonrpc":"2.0","Method":"square","params":[3],"id":"bad"}` +
		`]`
	out, err := d.HandleLine(context.Background(), []byte(line))
	if err != nil {
		t.Fatalf("%s - HandleLine error: %v", batchTestPrefix, err)
	}

	rs := decodeBatch(t, out)
	wantIDs := []string{`"null"`, `"t1"`, `"p1"`}
	if len(rs) != len(wantIDs) {
		t.Fatalf("%s - got %d responses, want %d: %s", batchTestPrefix, len(rs), len(wantIDs), out)
	}
	for i, want := range wantIDs {
		if string(rs[i].ID) != want {
			t.Errorf("%s - position %d id = %s, want %s", batchTestPrefix, i, rs[i].ID, want)
		}
	}
	if rs[0].Error == nil || rs[0].Error.Code != -32600 {
		t.Errorf("%s - expected InvalidRequest in the inline position, got %s", batchTestPrefix, out)
	}
}

func TestPeekLane(t *testing.T) {
	reg, _ := newTestRegistry(t)

	tests := []struct {
		name string
		raw  string
		want registry.Lane
	}{
		{"inline", `{"method":"subtract"}`, registry.LaneInline},
		{"thread", `{"method":"thread_echo"}`, registry.LaneThread},
		{"process", `{"method":"square"}`, registry.LaneProcess},
		{"module process", `{"method":"document.square"}`, registry.LaneProcess},
		{"capitalized member", `{"Method":"square"}`, registry.LaneInline},
		{"upper case member", `{"METHOD":"thread_echo"}`, registry.LaneInline},
		{"method not a string", `{"method":1}`, registry.LaneInline},
		{"unknown method", `{"method":"nope"}`, registry.LaneInline},
		{"not an object", `[1]`, registry.LaneInline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := peekLane(json.RawMessage(tt.raw), reg); got != tt.want {
				t.Errorf("%s - peekLane(%s) = %v, want %v", batchTestPrefix, tt.raw, got, tt.want)
			}
		})
	}
}
