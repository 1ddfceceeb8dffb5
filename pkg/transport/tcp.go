package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const tcpLogPrefix = "transport:tcp"

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("transport: server closed")

// TCPServerOpts configures TCPServer. Nil or zero values use defaults.
type TCPServerOpts struct {
	// MaxLineBytes caps one inbound line; longer lines end the connection.
	MaxLineBytes int
}

// TCPServer serves newline-delimited JSON-RPC over TCP, one goroutine per connection.
type TCPServer struct {
	handler Handler
	maxLine int

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewTCPServer creates a server that hands every line to h. Pass nil for opts to use defaults.
func NewTCPServer(h Handler, opts *TCPServerOpts) *TCPServer {
	s := &TCPServer{handler: h, maxLine: DefaultMaxLineBytes, conns: make(map[net.Conn]struct{})}
	if opts != nil && opts.MaxLineBytes > 0 {
		s.maxLine = opts.MaxLineBytes
	}
	return s
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *TCPServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s - listen on %s: %w", tcpLogPrefix, addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until Shutdown, then returns ErrServerClosed.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Listening on %s", tcpLogPrefix, ln.Addr()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("%s - accept: %w", tcpLogPrefix, err)
		}
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.serveConn(ctx, conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, stops reading new lines on open connections and waits for the
// lines already being handled. Connections still open when ctx ends are closed.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s - close listener: %w", tcpLogPrefix, err)
	}
	return nil
}

func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	peer := conn.RemoteAddr()
	slog.Info(fmt.Sprintf("%s - got a connection from %s", tcpLogPrefix, peer))

	err := ServeLines(ctx, NewLineReader(conn, s.maxLine), NewLineWriter(conn), s.handler)
	switch {
	case err == nil:
		slog.Info(fmt.Sprintf("%s - end connection from %s", tcpLogPrefix, peer))
	case s.isClosed():
		slog.Info(fmt.Sprintf("%s - closed connection from %s on shutdown", tcpLogPrefix, peer))
	default:
		slog.Error(fmt.Sprintf("%s - error %v from %s", tcpLogPrefix, err, peer))
	}
}

// track registers c and adds it to wg under mu, so no Add can follow Shutdown's Wait.
func (s *TCPServer) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *TCPServer) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
