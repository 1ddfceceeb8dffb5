package lanes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/morezero/jsonrpc2/pkg/registry"
)

const isolatedLogPrefix = "lanes:isolated"

// IsolatedExecutor runs Process lane methods inside this process on a dedicated pool.
// Requests and results are still passed as encoded frames, so a method that works here
// behaves the same under SubprocessExecutor.
type IsolatedExecutor struct {
	src  MethodSource
	pool *Pool
}

// NewIsolatedExecutor creates an executor with its own pool of size slots.
func NewIsolatedExecutor(src MethodSource, size int) *IsolatedExecutor {
	return &IsolatedExecutor{src: src, pool: NewPool("process", size)}
}

// Execute runs method on the process pool.
func (e *IsolatedExecutor) Execute(ctx context.Context, method string, args *registry.Args) (json.RawMessage, error) {
	in, err := json.Marshal(newWorkRequest(method, args))
	if err != nil {
		return nil, fmt.Errorf("%s - encode work: %w", isolatedLogPrefix, err)
	}

	var out []byte
	err = e.pool.Do(ctx, func() {
		var req WorkRequest
		if uerr := json.Unmarshal(in, &req); uerr != nil {
			out, _ = json.Marshal(WorkResult{Error: uerr.Error()})
			return
		}
		out, _ = json.Marshal(RunWork(e.src, req))
	})
	if err != nil {
		return nil, err
	}

	var res WorkResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("%s - decode result: %w", isolatedLogPrefix, err)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Result, nil
}

// Stats reports the process pool.
func (e *IsolatedExecutor) Stats() PoolStats { return e.pool.Stats() }
