package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const serveLogPrefix = "transport:serve"

// ServeLines reads lines from r until EOF, handing each to h and writing any reply to w.
// Lines are handled strictly in arrival order: the next line is not read until the reply
// to the current one has been written. It returns nil on EOF, ctx.Err() once ctx is done,
// and the first read, handle or write error otherwise.
func ServeLines(ctx context.Context, r LineReader, w LineWriter, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		out, err := h.HandleLine(ctx, line)
		if err != nil {
			return fmt.Errorf("%s - handle line: %w", serveLogPrefix, err)
		}
		if out == nil {
			slog.Debug(fmt.Sprintf("%s - no reply for line of %d bytes", serveLogPrefix, len(line)))
			continue
		}
		if err := w.WriteLine(out); err != nil {
			return fmt.Errorf("%s - write reply: %w", serveLogPrefix, err)
		}
	}
}
