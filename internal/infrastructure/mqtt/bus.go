package mqtt

import (
	"fmt"
	"sync"
)

// EventPublisher forwards logical bus topics to the broker. *Client
// implements it by prefixing graylogic/fieldunit.
type EventPublisher interface {
	PublishEvent(logical string, payload []byte) error
}

// Listener receives every bus message by logical topic. It runs on the
// publisher's goroutine and must not block.
type Listener func(topic string, payload []byte)

// Bus is the hub message bus seen by the field unit core. Logical topics
// such as "device_registered" or a device id are mapped under
// graylogic/fieldunit, and in-process listeners (the websocket relay)
// see each message before it goes to the broker.
//
// A Bus with a nil EventPublisher only fans out locally, which is how the hub
// runs when MQTT is unreachable at startup.
type Bus struct {
	pub EventPublisher

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewBus creates a bus forwarding to pub, which may be nil.
func NewBus(pub EventPublisher) *Bus {
	return &Bus{
		pub:       pub,
		listeners: make(map[int]Listener),
	}
}

// Publish delivers payload to local listeners, then to the broker.
//
// Listeners always hear the message, even when the broker publish fails,
// so the websocket relay keeps working through an MQTT outage.
//
// Parameters:
//   - topic: Logical bus topic ("device_discovered", "device_registered",
//     "scheduler_event" or a device id for telemetry)
//   - payload: JSON document
//
// Returns:
//   - error: ErrInvalidTopic for an empty topic, or the wrapped broker error
//
// Example:
//
//	bus.Publish("esp32-kitchen-01", telemetryJSON)
//	// listeners see ("esp32-kitchen-01", telemetryJSON)
//	// broker sees graylogic/fieldunit/esp32-kitchen-01
func (b *Bus) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		l(topic, payload)
	}

	if b.pub == nil {
		return nil
	}
	if err := b.pub.PublishEvent(topic, payload); err != nil {
		return fmt.Errorf("bus publish %s: %w", topic, err)
	}
	return nil
}

// Listen registers l and returns a function that removes it.
//
// Example:
//
//	remove := bus.Listen(func(topic string, payload []byte) {
//	    hub.relay(topic, payload)
//	})
//	defer remove()
func (b *Bus) Listen(l Listener) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}
