// Package protocol holds the JSON-RPC 2.0 wire model: requests, responses and the fixed error table.
package protocol

import "fmt"

// Error codes defined by JSON-RPC 2.0.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var messages = map[int]string{
	CodeParseError:     "Parse error",
	CodeInvalidRequest: "Invalid Request",
	CodeMethodNotFound: "Method not found",
	CodeInvalidParams:  "Invalid params",
	CodeInternalError:  "Internal error",
}

// Error is the error member of an ErrorResponse.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so errors.Is(err, ErrInternal()) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError returns an error for one of the fixed codes. Unknown codes fall back to "Server error".
func NewError(code int) *Error {
	msg, ok := messages[code]
	if !ok {
		msg = "Server error"
	}
	return &Error{Code: code, Message: msg}
}

func ErrParse() *Error          { return NewError(CodeParseError) }
func ErrInvalidRequest() *Error { return NewError(CodeInvalidRequest) }
func ErrMethodNotFound() *Error { return NewError(CodeMethodNotFound) }
func ErrInvalidParams() *Error  { return NewError(CodeInvalidParams) }
func ErrInternal() *Error       { return NewError(CodeInternalError) }

// HidesID reports whether responses for this error always carry NullID.
// No id can be trusted once the payload failed to parse or the envelope was rejected.
func (e *Error) HidesID() bool {
	return e.Code == CodeParseError || e.Code == CodeInvalidRequest
}
