// Package transport carries JSON-RPC lines over byte streams: the line framing contracts,
// the per-connection serve loop, a TCP listener and a COMMS (NATS) request/reply adapter.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

const linesLogPrefix = "transport:lines"

// DefaultMaxLineBytes caps one inbound line when no limit is configured.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned by a LineReader when a line exceeds its limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineReader yields one line at a time without its terminator. It returns io.EOF once the
// stream is exhausted; a final line without a terminator is still returned first.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// LineWriter writes one line and its terminator.
type LineWriter interface {
	WriteLine(line []byte) error
}

// Handler turns one inbound line into the bytes to write back. A nil result means
// nothing is written. *dispatcher.Dispatcher implements it.
type Handler interface {
	HandleLine(ctx context.Context, line []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, line []byte) ([]byte, error)

// HandleLine calls f.
func (f HandlerFunc) HandleLine(ctx context.Context, line []byte) ([]byte, error) {
	return f(ctx, line)
}

type bufferedLineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader frames r into newline-terminated lines of at most max bytes.
// max <= 0 means DefaultMaxLineBytes.
func NewLineReader(r io.Reader, max int) LineReader {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	size := max + 1
	if size > 64*1024 {
		size = 64 * 1024
	}
	return &bufferedLineReader{r: bufio.NewReaderSize(r, size), max: max}
}

func (b *bufferedLineReader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := b.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(bytes.TrimRight(line, "\r\n")) > b.max {
			return nil, fmt.Errorf("%s - %w (%d bytes)", linesLogPrefix, ErrLineTooLong, b.max)
		}
		switch {
		case err == nil:
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return bytes.TrimRight(line, "\r\n"), nil
		default:
			return nil, err
		}
	}
}

type bufferedLineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewLineWriter writes newline-terminated lines to w, flushing after each line.
// It is safe for concurrent use.
func NewLineWriter(w io.Writer) LineWriter {
	return &bufferedLineWriter{w: bufio.NewWriter(w)}
}

func (b *bufferedLineWriter) WriteLine(line []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.w.Write(line); err != nil {
		return err
	}
	if err := b.w.WriteByte('\n'); err != nil {
		return err
	}
	return b.w.Flush()
}
