package dispatcher

import (
	"encoding/json"

	"github.com/morezero/jsonrpc2/pkg/lanes"
	"github.com/morezero/jsonrpc2/pkg/protocol"
	"github.com/morezero/jsonrpc2/pkg/registry"
	"github.com/morezero/jsonrpc2/pkg/semver"
)

// Call is a request that passed envelope validation, with its method and bound arguments.
// Method and Args are nil when classification stopped at MethodNotFound or InvalidParams.
type Call struct {
	Request *protocol.Request
	Method  *registry.Method
	Args    *registry.Args
}

// IsNotification reports whether no response may be produced for the call.
func (c *Call) IsNotification() bool {
	return c != nil && c.Request != nil && c.Request.IsNotification()
}

// Lane returns the lane name of the resolved method, or "" when unresolved.
func (c *Call) Lane() string {
	if c == nil || c.Method == nil {
		return ""
	}
	return c.Method.Lane.String()
}

// Classify checks one JSON value against the request grammar and the registry, in order:
// InvalidRequest, MethodNotFound, InvalidParams. It has no side effects.
//
// The returned Call is nil only for InvalidRequest. For MethodNotFound and InvalidParams it
// carries the parsed request so the caller can recover the id and notification status.
func Classify(raw json.RawMessage, src lanes.MethodSource, policy *semver.VersionPolicy) (*Call, *protocol.Error) {
	req, perr := protocol.ParseRequest(raw)
	if perr != nil {
		return nil, perr
	}
	if policy != nil {
		var version string
		if err := json.Unmarshal(req.Version, &version); err != nil || !policy.Allows(version) {
			return nil, protocol.ErrInvalidRequest()
		}
	}

	call := &Call{Request: req}
	m, ok := src.Resolve(req.Method)
	if !ok {
		return call, protocol.ErrMethodNotFound()
	}
	args, err := m.Shape.Bind(req.Params)
	if err != nil {
		return call, protocol.ErrInvalidParams()
	}
	call.Method = m
	call.Args = args
	return call, nil
}

// peekLane routes a raw batch element without fully classifying it. Member names match
// exactly. Anything that does not resolve to a Thread or Process lane method goes to the
// inline lane.
func peekLane(raw json.RawMessage, src lanes.MethodSource) registry.Lane {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return registry.LaneInline
	}
	var name string
	if err := json.Unmarshal(members["method"], &name); err != nil {
		return registry.LaneInline
	}
	m, ok := src.Resolve(name)
	if !ok {
		return registry.LaneInline
	}
	return m.Lane
}
