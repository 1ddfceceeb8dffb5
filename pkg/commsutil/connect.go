// Package commsutil provides COMMS (NATS) connection helpers and the subject
// names the JSON-RPC service uses on the bus.
package commsutil

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// DefaultDrainTimeout bounds Drain when the caller passes zero.
const DefaultDrainTimeout = 5 * time.Second

// Connect creates a COMMS connection to the given URL. Extra options are
// applied after the defaults so callers can override them.
func Connect(url, name string, extra ...comms.Option) (*comms.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("%s - empty COMMS url", logPrefix)
	}
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	opts := []comms.Option{
		comms.Name(name),
		comms.Timeout(10 * time.Second),
		comms.ReconnectWait(2 * time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	}
	opts = append(opts, extra...)

	nc, err := comms.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// Drain drains nc so in-flight subscription handlers finish, then waits for
// the connection to close or the timeout to pass. A nil conn is a no-op.
func Drain(nc *comms.Conn, timeout time.Duration) error {
	if nc == nil || nc.IsClosed() {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	if err := nc.Drain(); err != nil {
		if errors.Is(err, comms.ErrConnectionClosed) {
			return nil
		}
		nc.Close()
		return fmt.Errorf("%s - drain failed: %w", logPrefix, err)
	}
	deadline := time.Now().Add(timeout)
	for !nc.IsClosed() {
		if time.Now().After(deadline) {
			nc.Close()
			return fmt.Errorf("%s - drain timed out after %s", logPrefix, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
