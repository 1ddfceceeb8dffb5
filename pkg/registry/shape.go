package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/morezero/jsonrpc2/pkg/protocol"
)

// ErrBind is returned when params cannot bind to a Shape. The dispatcher reports it as InvalidParams.
var ErrBind = errors.New("params do not match method shape")

// Shape is the parameter descriptor shared by validation and invocation.
// Rest accepts extra positional arguments after Params.
type Shape struct {
	Params []Param
	Rest   bool
}

// Names returns the declared param names in order.
func (s Shape) Names() []string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return names
}

func (s Shape) validate() error {
	seen := make(map[string]bool, len(s.Params))
	defaulted := false
	for _, p := range s.Params {
		if p.Name == "" {
			return fmt.Errorf("%s - empty param name", logPrefix)
		}
		if seen[p.Name] {
			return fmt.Errorf("%s - duplicate param %q", logPrefix, p.Name)
		}
		seen[p.Name] = true
		if p.IsOptional() {
			defaulted = true
		} else if defaulted {
			return fmt.Errorf("%s - required param %q follows an optional one", logPrefix, p.Name)
		}
	}
	return nil
}

// Bind maps request params onto the shape, filling defaults.
// Too few or too many positional values, unknown keys and missing required keys all fail with ErrBind.
func (s Shape) Bind(params protocol.Params) (*Args, error) {
	values := make([]json.RawMessage, len(s.Params))
	var rest []json.RawMessage

	switch params.Kind {
	case protocol.ParamsPositional:
		n := len(params.Positional)
		if n > len(s.Params) {
			if !s.Rest {
				return nil, fmt.Errorf("%w: %d positional params, at most %d accepted", ErrBind, n, len(s.Params))
			}
			rest = append(rest, params.Positional[len(s.Params):]...)
			n = len(s.Params)
		}
		copy(values, params.Positional[:n])
	case protocol.ParamsNamed:
		index := make(map[string]int, len(s.Params))
		for i, p := range s.Params {
			index[p.Name] = i
		}
		for key, v := range params.Named {
			i, ok := index[key]
			if !ok {
				return nil, fmt.Errorf("%w: unknown param %q", ErrBind, key)
			}
			values[i] = v
		}
	}

	for i, p := range s.Params {
		if values[i] != nil {
			continue
		}
		if !p.IsOptional() {
			return nil, fmt.Errorf("%w: missing param %q", ErrBind, p.Name)
		}
		values[i] = p.Default
	}
	return NewArgs(s.Names(), values, rest), nil
}
