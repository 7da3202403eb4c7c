package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// bufferCapacity bounds the number of messages held while disconnected.
const bufferCapacity = 100

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	log    *zap.SugaredLogger

	mu            sync.Mutex
	buf           *ringBuffer
	connectedOnce bool
	onDesired     func(bool)
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker string, log *zap.SugaredLogger) (*RealPublisher, error) {
	p := &RealPublisher{
		log: log,
		buf: newRingBuffer(bufferCapacity),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("busy-indicator").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(FormatWillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends an indicator event to the MQTT broker.
func (p *RealPublisher) Publish(event IndicatorEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) so lifecycle events are not lost
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// SubscribeDesired registers handler for TopicDesired. The subscription is
// renewed on every reconnect.
func (p *RealPublisher) SubscribeDesired(handler func(desired bool)) error {
	p.mu.Lock()
	p.onDesired = handler
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil // onConnect subscribes
	}
	return p.subscribe()
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.requeueIfOffline(msg)
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		p.requeueIfOffline(msg)
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

// requeueIfOffline buffers a failed message only when the connection is gone.
// On an open connection paho still holds the message and may deliver it.
func (p *RealPublisher) requeueIfOffline(msg bufferedMsg) {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
	}
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	p.mu.Lock()
	firstDrop := p.buf.push(msg)
	p.mu.Unlock()

	if firstDrop {
		p.log.Warnw("mqtt buffer full, dropping oldest", "capacity", bufferCapacity)
	}
}

func (p *RealPublisher) subscribe() error {
	token := p.client.Subscribe(TopicDesired, 1, p.handleDesired)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", TopicDesired)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicDesired, err)
	}
	return nil
}

func (p *RealPublisher) handleDesired(_ paho.Client, msg paho.Message) {
	desired, err := ParseDesired(msg.Payload())
	if err != nil {
		p.log.Warnw("ignoring desired message", "topic", msg.Topic(), "error", err)
		return
	}

	p.mu.Lock()
	handler := p.onDesired
	p.mu.Unlock()
	if handler != nil {
		handler(desired)
	}
}

// onConnect runs on the paho goroutine for the initial connect and every
// reconnect. Publishing from here must not wait on tokens.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connectedOnce
	p.connectedOnce = true
	pending := p.buf.drainAll()
	subscribe := p.onDesired != nil
	p.mu.Unlock()

	if subscribe {
		token := c.Subscribe(TopicDesired, 1, p.handleDesired)
		go p.watchSubscribe(token)
	}

	for _, msg := range pending {
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}
	if len(pending) > 0 {
		p.log.Infow("replayed buffered mqtt messages", "count", len(pending))
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(TopicSystem, 1, false, payload)
		p.log.Infow("mqtt reconnected")
	}
}

func (p *RealPublisher) watchSubscribe(token paho.Token) {
	<-token.Done()
	if err := token.Error(); err != nil {
		p.log.Errorw("mqtt resubscribe failed", "topic", TopicDesired, "error", err)
	}
}
