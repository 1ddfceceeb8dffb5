package lanes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/morezero/jsonrpc2/pkg/registry"
)

const subprocessLogPrefix = "lanes:subprocess"

// SubprocessExecutor runs each Process lane call in a fresh child process.
// The child is expected to call ServeWorker: one WorkRequest on stdin, one WorkResult on stdout.
type SubprocessExecutor struct {
	// Path and Args start the worker, e.g. os.Executable() with Args {"worker"}.
	Path string
	Args []string
	// Env is appended to the parent's environment.
	Env []string

	pool *Pool
}

// NewSubprocessExecutor creates an executor allowing size concurrent children.
func NewSubprocessExecutor(path string, args []string, size int) *SubprocessExecutor {
	return &SubprocessExecutor{Path: path, Args: args, pool: NewPool("process", size)}
}

// Execute starts a worker for method and waits for its result. A worker that exits non-zero,
// writes nothing, or writes garbage is reported as an error.
func (e *SubprocessExecutor) Execute(ctx context.Context, method string, args *registry.Args) (json.RawMessage, error) {
	if strings.TrimSpace(e.Path) == "" {
		return nil, fmt.Errorf("%s - worker path is empty", subprocessLogPrefix)
	}
	payload, err := json.Marshal(newWorkRequest(method, args))
	if err != nil {
		return nil, fmt.Errorf("%s - marshal work: %w", subprocessLogPrefix, err)
	}

	var res WorkResult
	var runErr error
	err = e.pool.Do(ctx, func() {
		res, runErr = e.run(ctx, payload)
	})
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Result, nil
}

func (e *SubprocessExecutor) run(ctx context.Context, payload []byte) (WorkResult, error) {
	cmd := exec.CommandContext(ctx, e.Path, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return WorkResult{}, fmt.Errorf("%s - worker failed: %w; stderr=%s", subprocessLogPrefix, err, strings.TrimSpace(stderr.String()))
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		return WorkResult{}, fmt.Errorf("%s - empty worker stdout; stderr=%s", subprocessLogPrefix, strings.TrimSpace(stderr.String()))
	}

	var res WorkResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return WorkResult{}, fmt.Errorf("%s - invalid worker response: %w; raw=%s", subprocessLogPrefix, err, raw)
	}
	return res, nil
}

// Stats reports the process pool.
func (e *SubprocessExecutor) Stats() PoolStats { return e.pool.Stats() }
