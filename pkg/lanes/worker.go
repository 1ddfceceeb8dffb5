package lanes

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

const workerLogPrefix = "lanes:worker"

// ServeWorker is the child side of SubprocessExecutor. It reads one WorkRequest from r,
// runs it against src and writes the WorkResult to w. Method failures are reported in the
// frame; only an unreadable request or a failed write return an error.
func ServeWorker(src MethodSource, r io.Reader, w io.Writer) error {
	var req WorkRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("%s - decode work request: %w", workerLogPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - Running %s", workerLogPrefix, req.Method))

	res := RunWork(src, req)
	if res.Error != "" {
		slog.Debug(fmt.Sprintf("%s - %s failed: %s", workerLogPrefix, req.Method, res.Error))
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("%s - write work result: %w", workerLogPrefix, err)
	}
	return nil
}
