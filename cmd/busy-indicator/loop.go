package main

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/busy-indicator/internal/gpio"
	"github.com/sweeney/busy-indicator/internal/mqtt"
	"github.com/sweeney/busy-indicator/internal/status"
	"github.com/sweeney/busy-indicator/internal/visibility"
)

// loop owns the debouncer for one run of the daemon.
type loop struct {
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	led        gpio.Indicator        // may be nil
	tracker    *status.Tracker
	cfg        visibility.Config
	clock      visibility.Clock
	log        *zap.SugaredLogger

	deb *visibility.Debouncer

	// mu serializes transition handling with state syncs and shutdown.
	mu      sync.Mutex
	closing bool
}

// run feeds desired values into the debouncer until a signal arrives or ctx
// is cancelled, then publishes a SHUTDOWN event and switches the LED off.
// Transitions fired by debouncer timers are handled on the timer's goroutine.
func (l *loop) run(ctx context.Context, desired <-chan bool, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	deb, err := visibility.New(false, l.cfg,
		visibility.WithClock(l.clock),
		visibility.WithLogger(l.log),
		visibility.WithOnShown(func() { l.onTransition(visibility.TransitionShown) }),
		visibility.WithOnHidden(func() { l.onTransition(visibility.TransitionHidden) }),
	)
	if err != nil {
		return err
	}
	l.deb = deb
	defer deb.Dispose()
	l.syncState()

	for {
		select {
		case s := <-sig:
			l.log.Infow("shutting down", "signal", s.String())
			l.shutdown(signalName(s))
			return nil

		case <-ctx.Done():
			l.log.Infow("shutting down", "reason", ctx.Err())
			l.shutdown("CANCELLED")
			return nil

		case v, ok := <-desired:
			if !ok {
				desired = nil
				continue
			}
			l.apply(v)

		case <-heartbeat:
			l.heartbeat()
		}
	}
}

func (l *loop) apply(v bool) {
	prev := l.deb.State()
	if prev.Desired && !v && !prev.Rendered {
		l.tracker.RecordSuppressed()
		l.log.Debugw("busy pulse suppressed")
	}

	if err := l.deb.Update(v, l.cfg); err != nil {
		l.log.Errorw("debouncer update failed", "error", err)
		return
	}
	if prev.Desired != v {
		l.log.Debugw("busy signal changed", "desired", v)
	}

	l.syncState()
	l.refreshMQTT()
}

// syncState copies the debouncer state into the tracker. The read and the
// write happen under mu so an older snapshot never replaces a newer one.
func (l *loop) syncState() {
	l.mu.Lock()
	l.tracker.Update(l.deb.State())
	l.mu.Unlock()
}

// onTransition is the debouncer's lifecycle callback. With the system clock
// it may run on a timer goroutine. Once shutdown has begun it does nothing.
func (l *loop) onTransition(t visibility.Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return
	}

	state := l.deb.State()
	l.log.Infow("indicator transition", "event", t, "desired", state.Desired)

	l.tracker.RecordTransition(t)
	l.tracker.Update(state)

	if l.led != nil {
		if err := l.led.Set(t == visibility.TransitionShown); err != nil {
			l.log.Warnw("led write failed", "error", err)
		}
	}

	event := mqtt.IndicatorEvent{
		Timestamp: l.clock.Now(),
		Type:      t,
		Desired:   state.Desired,
	}
	if err := l.publisher.Publish(event); err != nil {
		// Don't crash on publish failure
		l.log.Warnw("publish error", "error", err)
	}
}

func (l *loop) heartbeat() {
	l.refreshMQTT()
	l.syncState()
	snap := l.tracker.Snapshot()

	l.log.Infow("heartbeat",
		"uptime", snap.Uptime().Truncate(time.Second),
		"shown", snap.Counts.Shown,
		"hidden", snap.Counts.Hidden,
		"suppressed", snap.Counts.Suppressed,
	)

	event := mqtt.SystemEvent{
		Timestamp:  l.clock.Now(),
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warnw("heartbeat publish error", "error", err)
	}
}

func (l *loop) shutdown(reason string) {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()
	l.deb.Dispose()

	if l.led != nil {
		if err := l.led.Set(false); err != nil {
			l.log.Warnw("led write failed", "error", err)
		}
	}

	l.refreshMQTT()
	l.syncState()
	snap := l.tracker.Snapshot()

	event := mqtt.SystemEvent{
		Timestamp:  l.clock.Now(),
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warnw("failed to publish shutdown event", "error", err)
	} else {
		l.log.Infow("published shutdown event")
	}
}

func (l *loop) refreshMQTT() {
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
