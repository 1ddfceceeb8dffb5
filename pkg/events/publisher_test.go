package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishFailed(context.Background(), &InvocationFailedEvent{
		Method: "subtract",
		Code:   -32603,
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *InvocationFailedEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *InvocationFailedEvent) error {
		captured = event
		return nil
	})

	event := &InvocationFailedEvent{
		Method:       "have_error_method",
		Lane:         "inline",
		Notification: true,
		Code:         -32603,
		Message:      "Internal error",
		Detail:       "boom",
	}

	err := pub.PublishFailed(context.Background(), event)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.Method != "have_error_method" {
		t.Errorf("expected method have_error_method, got %s", captured.Method)
	}
	if !captured.Notification {
		t.Error("expected notification flag to be kept")
	}
}

func TestFanOut(t *testing.T) {
	var calls []string
	record := func(name string, err error) EventPublisher {
		return NewCallbackPublisher(func(_ context.Context, _ *InvocationFailedEvent) error {
			calls = append(calls, name)
			return err
		})
	}

	errFirst := errors.New("first failed")
	fan := NewFanOut(record("a", errFirst), nil, record("b", nil))
	if len(fan) != 2 {
		t.Fatalf("expected nil publisher to be dropped, got %d members", len(fan))
	}

	err := fan.PublishFailed(context.Background(), &InvocationFailedEvent{Method: "sum"})
	if !errors.Is(err, errFirst) {
		t.Errorf("expected joined error to wrap errFirst, got %v", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("expected both publishers called in order, got %v", calls)
	}
}

func TestFanOut_Empty(t *testing.T) {
	if err := NewFanOut().PublishFailed(context.Background(), &InvocationFailedEvent{}); err != nil {
		t.Errorf("expected nil error from empty fan-out, got %v", err)
	}
}

func TestInvocationFailedEvent_Stamp(t *testing.T) {
	e := (&InvocationFailedEvent{Method: "x"}).Stamp()
	if e.Timestamp == "" {
		t.Fatal("expected timestamp to be set")
	}
	e2 := (&InvocationFailedEvent{Timestamp: "2025-01-01T00:00:00Z"}).Stamp()
	if e2.Timestamp != "2025-01-01T00:00:00Z" {
		t.Errorf("expected existing timestamp kept, got %s", e2.Timestamp)
	}
}
