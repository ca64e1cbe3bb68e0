package events

import (
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventItemFailed, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	payload := QueueItemPayload{QueueID: 5, RequestRef: "abc", Status: "Failed", Error: "boom"}
	if err := bus.PublishJSON(EventItemFailed, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded QueueItemPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.QueueID != 5 || decoded.Error != "boom" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventItemEnqueued, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventItemEnqueued, func(_ *Event) error { count2++; return nil })
	bus.Subscribe(EventItemSucceeded, func(_ *Event) error { t.Error("wrong type delivered"); return nil })

	bus.Publish(&Event{Type: EventItemEnqueued})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("sink down")

	var reported error
	var after bool
	bus.OnError(func(_ *Event, err error) { reported = err })
	bus.Subscribe(EventItemFailed, func(_ *Event) error { return boom })
	bus.Subscribe(EventItemFailed, func(_ *Event) error { after = true; return nil })

	bus.Publish(&Event{Type: EventItemFailed})

	if !errors.Is(reported, boom) {
		t.Errorf("expected handler error to be reported, got %v", reported)
	}
	if !after {
		t.Errorf("a failing handler must not stop later handlers")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	nilBus.Publish(&Event{Type: "unknown"})
	if err := nilBus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("nil bus PublishJSON failed: %v", err)
	}
}
