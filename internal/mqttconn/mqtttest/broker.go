// Package mqtttest provides an in-memory MQTT client for tests.
//
// Every Client created from the same Broker sees the others' publishes.
// Delivery is synchronous on the publishing goroutine.
package mqtttest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker routes messages between in-memory clients.
type Broker struct {
	mu   sync.Mutex
	subs map[string][]route // filter → handlers
	log  []Published
}

type route struct {
	client  *Client
	handler mqtt.MessageHandler
}

// Published records one publish seen by the broker.
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]route)}
}

// Client returns a connected client attached to b.
func (b *Broker) Client() *Client {
	c := &Client{broker: b}
	c.connected = true
	return c
}

// Published returns a copy of every publish on topic ("" for all).
func (b *Broker) Published(topic string) []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Published
	for _, p := range b.log {
		if topic == "" || p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (b *Broker) publish(topic string, qos byte, payload []byte) {
	b.mu.Lock()
	b.log = append(b.log, Published{Topic: topic, QoS: qos, Payload: payload})
	var targets []route
	for filter, routes := range b.subs {
		if Match(filter, topic) {
			targets = append(targets, routes...)
		}
	}
	b.mu.Unlock()

	for _, r := range targets {
		r.handler(r.client, &message{topic: topic, qos: qos, payload: payload})
	}
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// Client implements mqtt.Client against a Broker.
type Client struct {
	broker *Broker

	mu        sync.Mutex
	connected bool
	filters   []string
	// PublishErr, when set, fails every Publish.
	PublishErr error
}

var _ mqtt.Client = (*Client)(nil)

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	filters := c.filters
	c.filters = nil
	c.mu.Unlock()
	c.unsubscribe(filters...)
}

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	if !c.IsConnected() {
		return done(fmt.Errorf("mqtttest: not connected"))
	}
	c.mu.Lock()
	err := c.PublishErr
	c.mu.Unlock()
	if err != nil {
		return done(err)
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	default:
		return done(fmt.Errorf("mqtttest: unsupported payload type %T", payload))
	}
	c.broker.publish(topic, qos, data)
	return done(nil)
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.broker.mu.Lock()
	c.broker.subs[topic] = append(c.broker.subs[topic], route{client: c, handler: callback})
	c.broker.mu.Unlock()

	c.mu.Lock()
	c.filters = append(c.filters, topic)
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.unsubscribe(topics...)
	return done(nil)
}

func (c *Client) unsubscribe(topics ...string) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, topic := range topics {
		routes := c.broker.subs[topic]
		kept := routes[:0]
		for _, r := range routes {
			if r.client != c {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(c.broker.subs, topic)
		} else {
			c.broker.subs[topic] = kept
		}
	}
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

type token struct {
	err  error
	done chan struct{}
}

func done(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return m.qos }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
