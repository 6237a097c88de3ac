// Package bus defines the message bus abstraction the persistence
// service runs against. The mqttbus implementation talks to a real
// MQTT broker; membus is a process-local stand-in used by tests.
package bus

import "context"

// ----------------------------------------------
// Types
// ----------------------------------------------

// Handler is invoked for every message delivered to a subscription.
// Implementations must treat topic and payload as read-only.
type Handler func(topic string, payload []byte)

// Bus is a publish/subscribe message bus.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks
// registered via OnConnect and OnDisconnect are invoked from the bus's
// own goroutines.
type Bus interface {
	// Connect establishes the connection to the broker. OnConnect
	// callbacks fire with reconnect=false on the first successful
	// connection and reconnect=true on every later one.
	Connect(ctx context.Context) error

	// Subscribe registers a handler for a topic filter. Subscriptions
	// survive reconnects.
	Subscribe(filter string, h Handler) error

	// Publish sends a message to a topic. It fails when the bus is
	// not connected.
	Publish(topic string, payload []byte) error

	// Connected reports whether the broker connection is currently up.
	Connected() bool

	// OnConnect registers a callback fired after every successful
	// (re)connection. Must be called before Connect.
	OnConnect(fn func(reconnect bool))

	// OnDisconnect registers a callback fired when the connection is
	// lost. Must be called before Connect.
	OnDisconnect(fn func(err error))

	// Close tears down the connection.
	Close()
}
