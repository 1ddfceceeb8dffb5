package lanes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/morezero/jsonrpc2/pkg/registry"
)

const workLogPrefix = "lanes:work"

// ProcessExecutor runs Process lane methods. Only encoded bytes cross the boundary:
// the method name and bound arguments go in, an encoded result or an error message comes out.
type ProcessExecutor interface {
	Execute(ctx context.Context, method string, args *registry.Args) (json.RawMessage, error)
	Stats() PoolStats
}

// MethodSource resolves method names; *registry.Registry implements it.
type MethodSource interface {
	Resolve(name string) (*registry.Method, bool)
}

// WorkRequest is the frame sent to a process worker.
type WorkRequest struct {
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
	Rest   []json.RawMessage `json:"rest,omitempty"`
}

// WorkResult is the frame a process worker sends back. Error is set when the method failed.
type WorkResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func newWorkRequest(method string, args *registry.Args) WorkRequest {
	return WorkRequest{Method: method, Args: args.Values(), Rest: args.Rest()}
}

// Err converts a failed frame back into an error.
func (r WorkResult) Err() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}

// RunWork executes one frame against src. Panics in the method are reported as errors.
func RunWork(src MethodSource, req WorkRequest) (res WorkResult) {
	defer func() {
		if r := recover(); r != nil {
			res = WorkResult{Error: fmt.Sprintf("%s - %s panicked: %v", workLogPrefix, req.Method, r)}
		}
	}()

	m, ok := src.Resolve(req.Method)
	if !ok {
		return WorkResult{Error: fmt.Sprintf("%s - unknown method %q", workLogPrefix, req.Method)}
	}
	if m.Lane != registry.LaneProcess || m.Process() == nil {
		return WorkResult{Error: fmt.Sprintf("%s - %s is not a process lane method", workLogPrefix, req.Method)}
	}

	out, err := m.Process()(registry.NewArgs(m.Shape.Names(), req.Args, req.Rest))
	if err != nil {
		return WorkResult{Error: err.Error()}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return WorkResult{Error: fmt.Sprintf("%s - encode result of %s: %v", workLogPrefix, req.Method, err)}
	}
	return WorkResult{Result: data}
}
