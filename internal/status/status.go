// Package status provides a thread-safe status tracker for the busy-indicator
// daemon. It is read by HTTP handlers and used for MQTT status events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/busy-indicator/internal/visibility"
)

// Config contains daemon configuration for display.
type Config struct {
	Source      string // "gpio" or "mqtt"
	ShowDelayMs int64
	HideMinMs   int64
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Counts tracks indicator activity since startup.
type Counts struct {
	Shown  int
	Hidden int
	// Suppressed counts desired pulses that ended before anything was shown.
	Suppressed int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Indicator     visibility.State
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the latest debouncer state.
func (t *Tracker) Update(state visibility.State) {
	t.mu.Lock()
	t.snap.Indicator = state
	t.mu.Unlock()
}

// RecordTransition counts a rendered-state transition.
func (t *Tracker) RecordTransition(tr visibility.Transition) {
	t.mu.Lock()
	switch tr {
	case visibility.TransitionShown:
		t.snap.Counts.Shown++
	case visibility.TransitionHidden:
		t.snap.Counts.Hidden++
	}
	t.mu.Unlock()
}

// RecordSuppressed counts a pulse the show delay filtered out.
func (t *Tracker) RecordSuppressed() {
	t.mu.Lock()
	t.snap.Counts.Suppressed++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
