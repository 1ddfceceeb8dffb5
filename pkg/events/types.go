// Package events defines the failure events emitted when a JSON-RPC
// invocation fails and the publishers that deliver them.
package events

import (
	"encoding/json"
	"time"
)

// InvocationFailedEvent is emitted whenever a request or notification fails
// after it has been accepted, or a notification is rejected before it runs.
// Detail carries the internal error text that never reaches the client.
type InvocationFailedEvent struct {
	Method       string          `json:"method"`
	Lane         string          `json:"lane,omitempty"`
	ID           json.RawMessage `json:"id,omitempty"`
	Notification bool            `json:"notification"`
	Code         int             `json:"code"`
	Message      string          `json:"message"`
	Detail       string          `json:"detail,omitempty"`
	Timestamp    string          `json:"timestamp"`
}

// Stamp sets Timestamp to now in RFC 3339 (UTC) when it is empty.
func (e *InvocationFailedEvent) Stamp() *InvocationFailedEvent {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return e
}
