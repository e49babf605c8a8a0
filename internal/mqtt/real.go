package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/water-sim/internal/logic"
)

// bufferCapacity is how many messages are kept while the broker is away.
const bufferCapacity = 1024

// conn is the part of paho.Client the publisher uses.
type conn interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client      conn
	topic       string
	systemTopic string

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
// clientID must be unique per broker.
func NewRealPublisher(broker, instance, clientID string) (*RealPublisher, error) {
	p := newPublisher(nil, instance)

	opts, err := p.clientOptions(broker, clientID)
	if err != nil {
		return nil, err
	}

	client := paho.NewClient(opts)
	p.client = client

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// clientOptions builds the paho options. The OFFLINE will is retained so it
// replaces a retained STARTUP after an unclean disconnect.
func (p *RealPublisher) clientOptions(broker, clientID string) (*paho.ClientOptions, error) {
	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	return paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.systemTopic, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		}), nil
}

func newPublisher(client conn, instance string) *RealPublisher {
	return &RealPublisher{
		client:      client,
		topic:       EventsTopic(instance),
		systemTopic: SystemTopic(instance),
		buf:         newRingBuffer(bufferCapacity),
	}
}

// Publish sends a process event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(pending{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - lifecycle events should arrive
	return p.send(pending{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker. Buffered messages are dropped.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if n := p.buf.len(); n > 0 {
		log.Printf("mqtt: dropping %d buffered messages on close", n)
	}
	p.mu.Unlock()

	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) send(msg pending) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		p.buf.push(msg)
		return nil
	}
	return p.deliver(msg)
}

// deliver publishes one message. A timed-out message goes back to the
// buffer so a reconnect replays it. Caller holds p.mu.
func (p *RealPublisher) deliver(msg pending) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.buf.push(msg)
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages in order. It stops at the first failure
// and keeps the rest for the next reconnect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.buf.drainAll()
	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages", len(msgs))

	for i, msg := range msgs {
		if !p.client.IsConnectionOpen() {
			p.requeue(msgs[i:])
			return
		}
		if err := p.deliver(msg); err != nil {
			log.Printf("mqtt: replay failed: %v", err)
			// deliver re-buffers timeouts itself; keep what follows.
			p.requeue(msgs[i+1:])
			return
		}
	}
}

func (p *RealPublisher) requeue(msgs []pending) {
	for _, m := range msgs {
		p.buf.push(m)
	}
}
