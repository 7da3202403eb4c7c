// Package mqtt provides MQTT publishing and the desired-visibility
// subscription, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/busy-indicator/internal/visibility"
)

// Topic is the MQTT topic for indicator transition events.
const Topic = "indicator/busy/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "indicator/busy/system"

// TopicDesired is the MQTT topic carrying the desired busy signal.
const TopicDesired = "indicator/busy/desired"

// ErrInvalidDesired is returned by ParseDesired for unrecognised payloads.
var ErrInvalidDesired = errors.New("mqtt: invalid desired payload")

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an indicator transition event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event IndicatorEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// DesiredSubscriber delivers desired-visibility values received on TopicDesired.
type DesiredSubscriber interface {
	SubscribeDesired(handler func(desired bool)) error
}

// IndicatorEvent is a rendered-state transition to be published.
type IndicatorEvent struct {
	Timestamp time.Time
	Type      visibility.Transition
	Desired   bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Indicator IndicatorPayload `json:"indicator"`
}

// IndicatorPayload contains the transition details.
type IndicatorPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Desired   bool   `json:"desired"`
}

// FormatPayload creates the JSON payload for an indicator event.
func FormatPayload(event IndicatorEvent) ([]byte, error) {
	payload := Payload{
		Indicator: IndicatorPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Desired:   event.Desired,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// FormatWillPayload returns the last-will payload the broker publishes when
// the connection drops without a clean disconnect. It has no timestamp since
// it is registered at connect time.
func FormatWillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"}})
	return data
}

// ParseDesired decodes a desired-visibility payload.
// Accepts ON/OFF, true/false and 1/0, case-insensitive.
func ParseDesired(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidDesired, payload)
}
