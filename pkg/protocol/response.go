package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response is a SuccessResponse when Error is nil and an ErrorResponse otherwise.
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Error  *Error
}

// NewSuccess builds a SuccessResponse. A nil result is written as JSON null.
func NewSuccess(id, result json.RawMessage) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds an ErrorResponse. Without a usable id, or for errors that hide the id,
// the response carries NullID.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	if id == nil || err.HidesID() {
		id = NullID
	}
	return &Response{ID: id, Error: err}
}

// IsError reports whether this is an ErrorResponse.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// MarshalJSON writes {"jsonrpc":"2.0","result"|"error":...,"id":...} in that member order.
func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"jsonrpc":"2.0",`)
	if r.Error != nil {
		errData, err := json.Marshal(r.Error)
		if err != nil {
			return nil, fmt.Errorf("protocol:response - encode error: %w", err)
		}
		buf.WriteString(`"error":`)
		buf.Write(errData)
	} else {
		buf.WriteString(`"result":`)
		if len(r.Result) == 0 {
			buf.WriteString("null")
		} else if err := json.Compact(&buf, r.Result); err != nil {
			return nil, fmt.Errorf("protocol:response - invalid result: %w", err)
		}
	}
	buf.WriteString(`,"id":`)
	id := r.ID
	if len(id) == 0 {
		id = NullID
	}
	buf.Write(id)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// UnmarshalJSON reads a response written by MarshalJSON or any JSON-RPC 2.0 server.
func (r *Response) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Result = w.Result
	r.Error = w.Error
	return nil
}
