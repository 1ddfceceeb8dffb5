// Package registry holds the method table consulted by the dispatcher.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Lane is the execution strategy a method is bound to.
type Lane int

const (
	// LaneInline runs on the goroutine that read the request.
	LaneInline Lane = iota
	// LaneThread runs on the bounded IO-bound worker pool.
	LaneThread
	// LaneProcess runs on the bounded CPU-bound pool, across an isolation boundary.
	LaneProcess
)

func (l Lane) String() string {
	switch l {
	case LaneInline:
		return "inline"
	case LaneThread:
		return "thread"
	case LaneProcess:
		return "process"
	default:
		return fmt.Sprintf("lane(%d)", int(l))
	}
}

// ParseLane parses the names returned by Lane.String.
func ParseLane(s string) (Lane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inline", "":
		return LaneInline, nil
	case "thread":
		return LaneThread, nil
	case "process":
		return LaneProcess, nil
	default:
		return LaneInline, fmt.Errorf("%s - unknown lane %q", logPrefix, s)
	}
}

// Handler is an Inline or Thread lane method body.
type Handler func(ctx context.Context, args *Args) (any, error)

// ProcessFunc is a Process lane method body. It must be a stateless top-level function:
// it receives only decoded arguments and its result must encode to JSON, because both cross a
// process boundary.
type ProcessFunc func(args *Args) (any, error)

// Param describes one named parameter. A param with a Default is optional.
type Param struct {
	Name    string          `json:"name"`
	Default json.RawMessage `json:"default,omitempty"`
}

// Required declares a param without a default.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a param with a default value; def must encode to JSON.
func Optional(name string, def any) Param {
	data, err := json.Marshal(def)
	if err != nil {
		panic(fmt.Sprintf("%s - default for %q does not encode: %v", logPrefix, name, err))
	}
	return Param{Name: name, Default: data}
}

// IsOptional reports whether the param has a default.
func (p Param) IsOptional() bool {
	return p.Default != nil
}

// MethodInfo is the listing form of a registered method.
type MethodInfo struct {
	Name   string   `json:"name"`
	Lane   string   `json:"lane"`
	Params []string `json:"params"`
	Rest   bool     `json:"rest,omitempty"`
}
