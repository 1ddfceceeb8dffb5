package protocol

import (
	"bytes"
	"encoding/json"
)

// Message is one decoded line: either a single value or the elements of a batch.
type Message struct {
	Batch    bool
	Single   json.RawMessage
	Elements []json.RawMessage
}

// Decode parses one line. Anything that is not valid JSON is a ParseError.
// The elements of a batch are not inspected here.
func Decode(line []byte) (*Message, *Error) {
	trimmed := bytes.TrimSpace(line)
	if !json.Valid(trimmed) {
		return nil, ErrParse()
	}
	if trimmed[0] != '[' {
		return &Message{Single: json.RawMessage(trimmed)}, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, ErrParse()
	}
	return &Message{Batch: true, Elements: elements}, nil
}

// EncodeBatch writes a batch response array. Callers must not pass an empty slice.
func EncodeBatch(responses []*Response) ([]byte, error) {
	return json.Marshal(responses)
}
