// Package mqttbus implements bus.Bus on top of the Eclipse Paho MQTT
// client. Connections use a persistent session (clean session off) at
// QoS 1 so object events survive short broker outages, and the client
// re-subscribes all registered filters after every reconnect.
package mqttbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/scenesync/scenesync/lib/logging"
	"github.com/scenesync/scenesync/service/bus"
)

// ----------------------------------------------
// Types
// ----------------------------------------------

// Options configures the MQTT connection.
type Options struct {
	// URI is the broker address, e.g. "tcp://localhost:1883" or
	// "ssl://broker:8883".
	URI string

	// ClientID identifies this session on the broker. Persistent
	// sessions are keyed by it.
	ClientID string

	Username string
	Password string

	// WillTopic/WillPayload, when set, register a last-will message
	// the broker publishes if this client vanishes ungracefully.
	WillTopic   string
	WillPayload []byte
}

// Bus wraps a paho client.
type Bus struct {
	client mqtt.Client

	mu           sync.Mutex
	subs         map[string]bus.Handler
	onConnect    func(reconnect bool)
	onDisconnect func(err error)

	firstConnect atomic.Bool
}

// ----------------------------------------------
// Construction
// ----------------------------------------------

// New builds a Bus from the given options. The connection is not
// opened until Connect.
func New(opts Options) *Bus {
	b := &Bus{
		subs: make(map[string]bus.Handler),
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.URI).
		SetClientID(opts.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		// Ordered delivery: a delete must not overtake the create it
		// follows for the same object.
		SetOrderMatters(true)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		co.SetBinaryWill(opts.WillTopic, opts.WillPayload, 1, false)
	}

	co.SetOnConnectHandler(func(c mqtt.Client) {
		b.handleConnect()
	})
	co.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.mu.Lock()
		fn := b.onDisconnect
		b.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})

	b.client = mqtt.NewClient(co)
	return b
}

func (b *Bus) handleConnect() {
	reconnect := !b.firstConnect.CompareAndSwap(false, true)

	// Restore subscriptions before the callback runs so no events
	// slip past a reconnect-triggered resync.
	b.mu.Lock()
	filters := make(map[string]bus.Handler, len(b.subs))
	for f, h := range b.subs {
		filters[f] = h
	}
	fn := b.onConnect
	b.mu.Unlock()

	logger := logging.Component("mqttbus")
	for f, h := range filters {
		if err := b.subscribe(f, h); err != nil {
			logger.Error().Err(err).Str("filter", f).Msg("resubscribe failed")
		}
	}

	if fn != nil {
		fn(reconnect)
	}
}

// ----------------------------------------------
// bus.Bus implementation
// ----------------------------------------------

func (b *Bus) Connect(ctx context.Context) error {
	token := b.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(filter string, h bus.Handler) error {
	b.mu.Lock()
	b.subs[filter] = h
	connected := b.client.IsConnectionOpen()
	b.mu.Unlock()

	if !connected {
		// Deferred until the connect handler runs.
		return nil
	}
	return b.subscribe(filter, h)
}

func (b *Bus) subscribe(filter string, h bus.Handler) error {
	token := b.client.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	return nil
}

func (b *Bus) Publish(topic string, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt publish %s: not connected", topic)
	}
	token := b.client.Publish(topic, 1, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Connected() bool {
	return b.client.IsConnectionOpen()
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
	b.client.Disconnect(250)
}
