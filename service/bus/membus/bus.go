// Package membus implements an in-process message bus. Published
// messages are matched against subscription filters with MQTT wildcard
// semantics and delivered asynchronously, like a real broker would.
// Each subscription drains its own FIFO queue, so deliveries arrive in
// publish order the way an ordered broker session hands them over.
package membus

import (
	"context"
	"errors"
	"sync"

	"github.com/scenesync/scenesync/lib/acl"
	"github.com/scenesync/scenesync/service/bus"
)

// ErrNotConnected is returned by Publish while the bus is down.
var ErrNotConnected = errors.New("membus: not connected")

// queueDepth bounds a subscription's backlog. Publish blocks when the
// queue is full, which mirrors broker backpressure.
const queueDepth = 1024

// ----------------------------------------------
// Types
// ----------------------------------------------

type delivery struct {
	topic   string
	payload []byte
}

type subscription struct {
	filter  string
	handler bus.Handler
	queue   chan delivery
}

// Bus is an in-memory bus.Bus. SimulateDrop and SimulateReconnect let
// tests exercise connection-lifecycle behavior without a broker.
type Bus struct {
	mu            sync.Mutex
	connected     bool
	everConnected bool
	closed        bool
	subs          []*subscription
	onConnect     func(reconnect bool)
	onDisconnect  func(err error)
	wg            sync.WaitGroup
}

// New creates a disconnected in-memory bus.
func New() *Bus {
	return &Bus{}
}

// ----------------------------------------------
// bus.Bus implementation
// ----------------------------------------------

func (b *Bus) Connect(_ context.Context) error {
	b.mu.Lock()
	b.connected = true
	reconnect := b.everConnected
	b.everConnected = true
	fn := b.onConnect
	b.mu.Unlock()

	if fn != nil {
		fn(reconnect)
	}
	return nil
}

// Subscribe registers the handler and starts the drainer goroutine
// that delivers its queue one message at a time, in order.
func (b *Bus) Subscribe(filter string, h bus.Handler) error {
	s := &subscription{filter: filter, handler: h, queue: make(chan delivery, queueDepth)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	go func() {
		for d := range s.queue {
			s.handler(d.topic, d.payload)
			b.wg.Done()
		}
	}()
	return nil
}

// Publish enqueues the message on every matching subscription. The
// enqueue is buffered, so handlers that publish from within a delivery
// cannot deadlock against the bus, and each subscription still sees
// messages in the order they were published.
func (b *Bus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if acl.Match(s.filter, topic) {
			matched = append(matched, s)
		}
	}
	b.wg.Add(len(matched))
	b.mu.Unlock()

	data := make([]byte, len(payload))
	copy(data, payload)
	for _, s := range matched {
		s.queue <- delivery{topic: topic, payload: data}
	}
	return nil
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bus) OnConnect(fn func(reconnect bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = fn
}

func (b *Bus) OnDisconnect(fn func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = fn
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.connected = false
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	b.wg.Wait()
	for _, s := range subs {
		close(s.queue)
	}
}

// ----------------------------------------------
// Test hooks
// ----------------------------------------------

// SimulateDrop marks the bus disconnected and fires the disconnect
// callback, as a broker connection loss would.
func (b *Bus) SimulateDrop(err error) {
	b.mu.Lock()
	b.connected = false
	fn := b.onDisconnect
	b.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// SimulateReconnect re-establishes the connection and fires the
// connect callback with reconnect=true.
func (b *Bus) SimulateReconnect() {
	_ = b.Connect(context.Background())
}

// Flush waits for all in-flight deliveries to finish.
func (b *Bus) Flush() {
	b.wg.Wait()
}
