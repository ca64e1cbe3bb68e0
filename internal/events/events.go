package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventItemEnqueued   = "queue_item_enqueued"
	EventItemSucceeded  = "queue_item_succeeded"
	EventItemFailed     = "queue_item_failed"
	EventBatchCompleted = "queue_batch_completed"
)

// QueueItemPayload is the snapshot of a queue item carried by item events.
type QueueItemPayload struct {
	TenantID     int64     `json:"tenant_id"`
	TenantCode   string    `json:"tenant_code"`
	QueueID      int64     `json:"queue_id"`
	RequestRef   string    `json:"request_ref"`
	Partner      string    `json:"partner"`
	Operation    string    `json:"operation"`
	OperationKey string    `json:"operation_key,omitempty"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error,omitempty"`
	Manual       bool      `json:"manual,omitempty"`
	At           time.Time `json:"at"`
}

// BatchPayload summarizes one finished batch round.
type BatchPayload struct {
	Tenants   int           `json:"tenants"`
	Pulled    int           `json:"pulled"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Event represents a lightweight queue event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     func(event *Event, err error)
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// OnError installs a callback for handler errors. Without one they are dropped.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
