package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version written on every response.
const Version = "2.0"

// NullID is reported when no request id could be recovered.
// It is the JSON string "null", not JSON null; clients of the original server expect it.
var NullID = json.RawMessage(`"null"`)

var memberSet = map[string]bool{
	"jsonrpc": true,
	"method":  true,
	"id":      true,
	"params":  true,
}

// ParamsKind tells how a request supplied its params.
type ParamsKind int

const (
	ParamsNone ParamsKind = iota
	ParamsPositional
	ParamsNamed
)

func (k ParamsKind) String() string {
	switch k {
	case ParamsPositional:
		return "positional"
	case ParamsNamed:
		return "named"
	default:
		return "none"
	}
}

// Params is the params member of a request.
type Params struct {
	Kind       ParamsKind
	Positional []json.RawMessage
	Named      map[string]json.RawMessage
}

// Request is a decoded call. A nil ID makes it a Notification.
type Request struct {
	// Version is the raw jsonrpc member. Its value is not checked here.
	Version json.RawMessage
	Method  string
	Params  Params
	ID      json.RawMessage
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// ParseRequest validates the envelope of one request object.
// Every failure is an InvalidRequest; method existence and param shape are checked elsewhere.
func ParseRequest(raw json.RawMessage) (*Request, *Error) {
	if leading(raw) != '{' {
		return nil, ErrInvalidRequest()
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, ErrInvalidRequest()
	}
	for key := range members {
		if !memberSet[key] {
			return nil, ErrInvalidRequest()
		}
	}

	version, ok := members["jsonrpc"]
	if !ok {
		return nil, ErrInvalidRequest()
	}
	methodRaw, ok := members["method"]
	if !ok || leading(methodRaw) != '"' {
		return nil, ErrInvalidRequest()
	}

	req := &Request{Version: version}
	if err := json.Unmarshal(methodRaw, &req.Method); err != nil {
		return nil, ErrInvalidRequest()
	}

	if paramsRaw, ok := members["params"]; ok {
		params, perr := parseParams(paramsRaw)
		if perr != nil {
			return nil, perr
		}
		req.Params = params
	}

	if idRaw, ok := members["id"]; ok {
		if !validID(idRaw) {
			return nil, ErrInvalidRequest()
		}
		req.ID = compact(idRaw)
	}
	return req, nil
}

func parseParams(raw json.RawMessage) (Params, *Error) {
	switch leading(raw) {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return Params{}, ErrInvalidRequest()
		}
		if list == nil {
			list = []json.RawMessage{}
		}
		return Params{Kind: ParamsPositional, Positional: list}, nil
	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return Params{}, ErrInvalidRequest()
		}
		return Params{Kind: ParamsNamed, Named: named}, nil
	default:
		return Params{}, ErrInvalidRequest()
	}
}

// validID accepts strings and integral numbers. JSON null is not an id.
func validID(raw json.RawMessage) bool {
	switch leading(raw) {
	case '"':
		var s string
		return json.Unmarshal(raw, &s) == nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return integral(string(bytes.TrimSpace(raw)))
	default:
		return false
	}
}

// integral reports whether the JSON number literal n has an integer value, at any magnitude.
// 1.0, 1e3 and 10e-1 are integral; 1.5 and 1e-3 are not.
func integral(n string) bool {
	n = strings.TrimPrefix(n, "-")
	mantissa, exp := n, 0
	if i := strings.IndexAny(n, "eE"); i >= 0 {
		e, err := strconv.Atoi(n[i+1:])
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return false
		}
		mantissa, exp = n[:i], e
	}
	whole, frac, _ := strings.Cut(mantissa, ".")
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return true
	}
	significant := strings.TrimRight(digits, "0")
	trailingZeros := len(digits) - len(significant)
	return exp >= len(frac)-trailingZeros
}

// NewRequest builds a request from Go values. A nil id builds a Notification.
// params must encode to a JSON array or object, or be nil.
func NewRequest(id any, method string, params any) (*Request, error) {
	wire := map[string]any{"jsonrpc": Version, "method": method}
	if id != nil {
		wire["id"] = id
	}
	if params != nil {
		wire["params"] = params
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("protocol:request - encode request: %w", err)
	}
	req, perr := ParseRequest(data)
	if perr != nil {
		return nil, perr
	}
	return req, nil
}

type wireRequest struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  any             `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// EncodeRequest writes the request in wire form.
func EncodeRequest(r *Request) ([]byte, error) {
	version := r.Version
	if version == nil {
		version = json.RawMessage(strconv.Quote(Version))
	}
	w := wireRequest{JSONRPC: version, Method: r.Method, ID: r.ID}
	switch r.Params.Kind {
	case ParamsPositional:
		w.Params = r.Params.Positional
	case ParamsNamed:
		w.Params = r.Params.Named
	}
	return json.Marshal(w)
}

func leading(raw []byte) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}
