package main

import (
	"fmt"
	"time"

	"github.com/sweeney/busy-indicator/internal/status"
	"github.com/sweeney/busy-indicator/internal/visibility"
)

const (
	sourceGPIO = "gpio"
	sourceMQTT = "mqtt"
)

type options struct {
	source     string
	showDelay  time.Duration
	hideMin    time.Duration
	poll       time.Duration
	heartbeat  time.Duration
	broker     string
	chip       string
	pinBusy    int
	pinLED     int
	activeLow  bool
	led        bool
	httpAddr   string
	printState bool
	logLevel   string
}

// validate checks flag values before any hardware or network is touched.
func (o options) validate() error {
	switch o.source {
	case sourceGPIO:
		if o.poll <= 0 {
			return fmt.Errorf("--poll must be positive, got %v", o.poll)
		}
	case sourceMQTT:
	default:
		return fmt.Errorf("--source must be %q or %q, got %q", sourceGPIO, sourceMQTT, o.source)
	}

	if err := o.visibilityConfig().Validate(); err != nil {
		return fmt.Errorf("invalid debounce config: %w", err)
	}
	if o.heartbeat < 0 {
		return fmt.Errorf("--heartbeat must not be negative, got %v", o.heartbeat)
	}
	return nil
}

func (o options) visibilityConfig() visibility.Config {
	return visibility.Config{
		ShowDelay:       o.showDelay,
		HideMinDuration: o.hideMin,
	}
}

func (o options) statusConfig() status.Config {
	cfg := status.Config{
		Source:      o.source,
		ShowDelayMs: o.showDelay.Milliseconds(),
		HideMinMs:   o.hideMin.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
	}
	if o.source == sourceGPIO {
		cfg.PollMs = o.poll.Milliseconds()
	}
	return cfg
}
