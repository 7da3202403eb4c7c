package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Indicator     IndicatorJSON `json:"indicator"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Config        ConfigJSON    `json:"config"`
}

// IndicatorJSON reports the debouncer state.
type IndicatorJSON struct {
	State       string `json:"state"` // "SHOWN" or "HIDDEN"
	Desired     bool   `json:"desired"`
	EverShown   bool   `json:"ever_shown"`
	ShowPending bool   `json:"show_pending"`
	HidePending bool   `json:"hide_pending"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Shown      int `json:"shown"`
	Hidden     int `json:"hidden"`
	Suppressed int `json:"suppressed"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source      string `json:"source"`
	ShowDelayMs int64  `json:"show_delay_ms"`
	HideMinMs   int64  `json:"hide_min_ms"`
	PollMs      int64  `json:"poll_ms,omitempty"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

// StateString returns "SHOWN" or "HIDDEN" for the rendered flag.
func StateString(rendered bool) string {
	if rendered {
		return "SHOWN"
	}
	return "HIDDEN"
}

func buildInner(snap Snapshot) StatusInner {
	ind := snap.Indicator
	return StatusInner{
		Indicator: IndicatorJSON{
			State:       StateString(ind.Rendered),
			Desired:     ind.Desired,
			EverShown:   ind.EverRendered,
			ShowPending: ind.ShowTimerPending,
			HidePending: ind.HideTimerPending,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Shown:      snap.Counts.Shown,
			Hidden:     snap.Counts.Hidden,
			Suppressed: snap.Counts.Suppressed,
		},
		Config: ConfigJSON{
			Source:      snap.Config.Source,
			ShowDelayMs: snap.Config.ShowDelayMs,
			HideMinMs:   snap.Config.HideMinMs,
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
