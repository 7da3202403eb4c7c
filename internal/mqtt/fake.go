package mqtt

import "sync"

// FakePublisher records published events for test assertions.
// It is safe for concurrent use; read recorded values through its accessors.
type FakePublisher struct {
	mu sync.Mutex

	events         []IndicatorEvent
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte
	closed         bool
	connected      bool
	onDesired      func(bool)

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the indicator event.
func (f *FakePublisher) Publish(event IndicatorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// SubscribeDesired records the handler; Deliver invokes it.
func (f *FakePublisher) SubscribeDesired(handler func(desired bool)) error {
	f.mu.Lock()
	f.onDesired = handler
	f.mu.Unlock()
	return nil
}

// Deliver simulates a message arriving on TopicDesired.
// Invalid payloads are dropped, as the real subscriber does.
func (f *FakePublisher) Deliver(payload []byte) error {
	desired, err := ParseDesired(payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	handler := f.onDesired
	f.mu.Unlock()
	if handler != nil {
		handler(desired)
	}
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Events returns a copy of the published indicator events.
func (f *FakePublisher) Events() []IndicatorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]IndicatorEvent(nil), f.events...)
}

// Payloads returns a copy of the published indicator payloads.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns a copy of the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the published system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
	f.payloads = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.closed = false
	f.connected = false
	f.PublishError = nil
	f.PublishSystemError = nil
}
