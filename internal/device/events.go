package device

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventStatus       = "status"
	EventDiscovery    = "discovery"
	EventState        = "state"
	EventAvailability = "availability"
)

// Event is emitted by devices on the bus.
type Event struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Data     any    `json:"data"`
}

// StatusChange is the data of EventStatus.
type StatusChange struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StateUpdate is the data of EventState: one payload for one state topic.
type StateUpdate struct {
	Topic   string `json:"topic"`
	Name    string `json:"name"`
	Payload string `json:"payload"`
	// Value is the public value for numeric topics, nil otherwise.
	Value any `json:"value,omitempty"`
}

// Availability is the data of EventAvailability.
type Availability struct {
	Topic  string `json:"topic"`
	Online bool   `json:"online"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for device events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit calls every matching handler synchronously, in the caller's
// goroutine, so events of one device reach handlers in emission order.
// A panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "device", event.DeviceID, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
