package registry

import (
	"encoding/json"
	"fmt"
)

// Args are params bound to a Shape, in declaration order, plus any rest values.
type Args struct {
	names  []string
	values []json.RawMessage
	rest   []json.RawMessage
}

// NewArgs rebuilds bound arguments, e.g. on the far side of a process boundary.
func NewArgs(names []string, values, rest []json.RawMessage) *Args {
	return &Args{names: names, values: values, rest: rest}
}

// Len is the number of declared params.
func (a *Args) Len() int { return len(a.values) }

// Values returns the bound values in declaration order.
func (a *Args) Values() []json.RawMessage { return a.values }

// Rest returns the extra positional values.
func (a *Args) Rest() []json.RawMessage { return a.rest }

// Decode unmarshals the i-th declared param into v.
func (a *Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a.values) {
		return fmt.Errorf("%s - argument %d out of range", argsLogPrefix, i)
	}
	if err := json.Unmarshal(a.values[i], v); err != nil {
		return fmt.Errorf("%s - argument %q: %w", argsLogPrefix, a.name(i), err)
	}
	return nil
}

// Lookup unmarshals the param called name into v.
func (a *Args) Lookup(name string, v any) error {
	for i, n := range a.names {
		if n == name {
			return a.Decode(i, v)
		}
	}
	return fmt.Errorf("%s - no argument %q", argsLogPrefix, name)
}

// DecodeRest unmarshals every rest value into a fresh element of *dst.
func DecodeRest[T any](a *Args, dst *[]T) error {
	out := make([]T, 0, len(a.rest))
	for i, raw := range a.rest {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%s - rest argument %d: %w", argsLogPrefix, i, err)
		}
		out = append(out, v)
	}
	*dst = out
	return nil
}

func (a *Args) name(i int) string {
	if i < len(a.names) {
		return a.names[i]
	}
	return fmt.Sprintf("#%d", i)
}

const argsLogPrefix = "registry:args"
