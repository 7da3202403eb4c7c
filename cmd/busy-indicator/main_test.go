package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sweeney/busy-indicator/internal/gpio"
	"github.com/sweeney/busy-indicator/internal/mqtt"
	"github.com/sweeney/busy-indicator/internal/status"
	"github.com/sweeney/busy-indicator/internal/visibility"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const ms = time.Millisecond

// harness runs loop.run on its own goroutine with fakes for every collaborator.
type harness struct {
	t         *testing.T
	clock     *visibility.FakeClock
	pub       *mqtt.FakePublisher
	led       *gpio.FakeIndicator
	tracker   *status.Tracker
	desired   chan bool
	heartbeat chan time.Time
	sig       chan os.Signal
	cancel    context.CancelFunc
	done      chan error

	stopOnce sync.Once
	err      error
}

func startLoop(t *testing.T, cfg visibility.Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:         t,
		clock:     visibility.NewFakeClock(testStart),
		pub:       mqtt.NewFakePublisher(),
		led:       gpio.NewFakeIndicator(),
		tracker:   status.NewTracker(testStart, status.Config{Source: sourceMQTT}),
		desired:   make(chan bool),
		heartbeat: make(chan time.Time),
		sig:       make(chan os.Signal, 1),
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	h.pub.SetConnected(true)

	l := &loop{
		publisher:  h.pub,
		mqttStatus: h.pub,
		led:        h.led,
		tracker:    h.tracker,
		cfg:        cfg,
		clock:      h.clock,
		log:        zap.NewNop().Sugar(),
	}
	go func() { h.done <- l.run(ctx, h.desired, h.heartbeat, h.sig) }()

	t.Cleanup(func() {
		cancel()
		h.wait()
	})
	return h
}

// send delivers a desired value and waits until the loop has applied it.
func (h *harness) send(v bool) {
	h.t.Helper()
	h.desired <- v
	require.Eventually(h.t, func() bool {
		return h.tracker.Snapshot().Indicator.Desired == v
	}, time.Second, time.Millisecond)
}

func (h *harness) wait() error {
	h.stopOnce.Do(func() {
		select {
		case h.err = <-h.done:
		case <-time.After(2 * time.Second):
			h.err = errors.New("loop did not stop")
		}
	})
	return h.err
}

func (h *harness) stop(s os.Signal) error {
	h.sig <- s
	return h.wait()
}

func eventTypes(events []mqtt.IndicatorEvent) []visibility.Transition {
	var out []visibility.Transition
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestLoopShowsAfterDelayAndHidesAfterMinimum(t *testing.T) {
	h := startLoop(t, visibility.Config{ShowDelay: 300 * ms, HideMinDuration: 800 * ms})

	h.send(true)
	h.clock.Advance(299 * ms)
	assert.False(t, h.led.On())
	assert.Empty(t, h.pub.Events())

	h.clock.Advance(1 * ms)
	assert.True(t, h.led.On(), "LED lights once the show delay elapses")
	events := h.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, visibility.TransitionShown, events[0].Type)
	assert.True(t, events[0].Desired)
	assert.Equal(t, testStart.Add(300*ms), events[0].Timestamp)

	h.send(false)
	assert.True(t, h.led.On(), "LED stays lit for the hide minimum")

	h.clock.Advance(800 * ms)
	assert.False(t, h.led.On())
	assert.Equal(t, []visibility.Transition{visibility.TransitionShown, visibility.TransitionHidden}, eventTypes(h.pub.Events()))
	assert.Equal(t, []bool{true, false}, h.led.Writes())

	snap := h.tracker.Snapshot()
	assert.Equal(t, status.Counts{Shown: 1, Hidden: 1}, snap.Counts)
	assert.False(t, snap.Indicator.Rendered)
}

func TestLoopSuppressesBriefPulse(t *testing.T) {
	h := startLoop(t, visibility.Config{ShowDelay: 300 * ms, HideMinDuration: 800 * ms})

	h.send(true)
	h.clock.Advance(100 * ms)
	h.send(false)
	h.clock.Advance(time.Second)

	assert.Empty(t, h.pub.Events())
	assert.Empty(t, h.led.Writes())
	assert.Equal(t, 1, h.tracker.Snapshot().Counts.Suppressed)
}

func TestLoopRepeatedSamplesDoNotRestartDelay(t *testing.T) {
	h := startLoop(t, visibility.Config{ShowDelay: 300 * ms})

	h.send(true)
	for i := 0; i < 5; i++ {
		h.clock.Advance(50 * ms)
		h.send(true)
	}
	h.clock.Advance(50 * ms)

	assert.True(t, h.led.On(), "polling the same value must not reset the show delay")
}

func TestLoopZeroDelayShowsOnUpdate(t *testing.T) {
	h := startLoop(t, visibility.Config{})

	h.send(true)
	assert.True(t, h.led.On())
	h.send(false)
	assert.False(t, h.led.On())
	assert.Len(t, h.pub.Events(), 2)
}

func TestLoopHeartbeat(t *testing.T) {
	h := startLoop(t, visibility.Config{})
	h.send(true)

	h.heartbeat <- testStart
	require.Eventually(t, func() bool { return len(h.pub.SystemEvents()) == 1 }, time.Second, time.Millisecond)

	ev := h.pub.SystemEvents()[0]
	assert.Equal(t, "HEARTBEAT", ev.Event)
	assert.False(t, ev.Retained)
	assert.Contains(t, string(ev.RawPayload), `"event":"HEARTBEAT"`)
	assert.Contains(t, string(ev.RawPayload), `"state":"SHOWN"`)
	assert.Contains(t, string(ev.RawPayload), `"connected":true`)
}

func TestLoopShutdownOnSignal(t *testing.T) {
	h := startLoop(t, visibility.Config{HideMinDuration: time.Second})
	h.send(true)
	require.True(t, h.led.On())

	require.NoError(t, h.stop(syscall.SIGTERM))

	assert.False(t, h.led.On(), "LED is switched off on shutdown")
	assert.Equal(t, []visibility.Transition{visibility.TransitionShown}, eventTypes(h.pub.Events()),
		"shutdown is not a hide transition")

	sys := h.pub.SystemEvents()
	require.Len(t, sys, 1)
	assert.Equal(t, "SHUTDOWN", sys[0].Event)
	assert.Equal(t, "SIGTERM", sys[0].Reason)
	assert.True(t, sys[0].Retained)
	assert.Contains(t, string(sys[0].RawPayload), `"reason":"SIGTERM"`)

	// The disposed debouncer's hide timer must not fire anything later.
	h.clock.Advance(2 * time.Second)
	assert.Len(t, h.pub.Events(), 1)
}

func TestLoopShutdownOnCancel(t *testing.T) {
	h := startLoop(t, visibility.Config{})
	h.cancel()
	require.NoError(t, h.wait())

	sys := h.pub.SystemEvents()
	require.Len(t, sys, 1)
	assert.Equal(t, "CANCELLED", sys[0].Reason)
}

func TestLoopPublishErrorDoesNotStopIndicator(t *testing.T) {
	h := startLoop(t, visibility.Config{})
	h.pub.PublishError = errors.New("broker down")

	h.send(true)
	assert.True(t, h.led.On())
	h.send(false)
	assert.False(t, h.led.On())
	assert.Equal(t, status.Counts{Shown: 1, Hidden: 1}, h.tracker.Snapshot().Counts)
}

func TestLoopClosedDesiredChannelKeepsRunning(t *testing.T) {
	h := startLoop(t, visibility.Config{})
	close(h.desired)

	h.heartbeat <- testStart
	require.Eventually(t, func() bool { return len(h.pub.SystemEvents()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.stop(syscall.SIGINT))
	assert.Equal(t, "SIGINT", h.pub.SystemEvents()[1].Reason)
}

func TestLoopRejectsInvalidConfig(t *testing.T) {
	l := &loop{
		publisher: mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(testStart, status.Config{}),
		cfg:       visibility.Config{ShowDelay: -1},
		clock:     visibility.NewFakeClock(testStart),
		log:       zap.NewNop().Sugar(),
	}
	err := l.run(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, visibility.ErrNegativeDuration)
}

// newDirectLoop builds a loop with its debouncer but without running it.
func newDirectLoop(t *testing.T, cfg visibility.Config) (*loop, *mqtt.FakePublisher, *gpio.FakeIndicator) {
	t.Helper()
	pub := mqtt.NewFakePublisher()
	led := gpio.NewFakeIndicator()
	l := &loop{
		publisher: pub,
		led:       led,
		tracker:   status.NewTracker(testStart, status.Config{}),
		cfg:       cfg,
		clock:     visibility.NewFakeClock(testStart),
		log:       zap.NewNop().Sugar(),
	}
	deb, err := visibility.New(false, cfg,
		visibility.WithClock(l.clock),
		visibility.WithOnShown(func() { l.onTransition(visibility.TransitionShown) }),
		visibility.WithOnHidden(func() { l.onTransition(visibility.TransitionHidden) }),
	)
	require.NoError(t, err)
	t.Cleanup(deb.Dispose)
	l.deb = deb
	return l, pub, led
}

func TestTransitionAfterShutdownIsIgnored(t *testing.T) {
	l, pub, led := newDirectLoop(t, visibility.Config{})

	l.shutdown("SIGTERM")
	// A timer goroutine that was already past dispatch when shutdown began.
	l.onTransition(visibility.TransitionShown)

	assert.Equal(t, []bool{false}, led.Writes(), "LED must stay off after shutdown")
	assert.Empty(t, pub.Events())
	assert.Equal(t, status.Counts{}, l.tracker.Snapshot().Counts)

	sys := pub.SystemEvents()
	require.Len(t, sys, 1)
	assert.Equal(t, "SHUTDOWN", sys[0].Event)
}

func TestTrackerKeepsLatestStateUnderConcurrentTransitions(t *testing.T) {
	l, _, _ := newDirectLoop(t, visibility.Config{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			l.apply(i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			l.onTransition(visibility.TransitionShown)
		}
	}()
	wg.Wait()

	assert.Equal(t, l.deb.State(), l.tracker.Snapshot().Indicator)
}

func TestSendLatestKeepsNewestValue(t *testing.T) {
	ch := make(chan bool, 1)

	sendLatest(ch, true)
	sendLatest(ch, false)
	sendLatest(ch, true)

	require.Len(t, ch, 1)
	assert.True(t, <-ch)
}

func TestDesiredHandlerDoesNotBlockWhileLoopBusy(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	desired := make(chan bool, 1)
	require.NoError(t, pub.SubscribeDesired(func(v bool) { sendLatest(desired, v) }))

	// Nothing reads desired, as when the loop is waiting on a publish.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, p := range []string{"on", "off", "on", "off"} {
			assert.NoError(t, pub.Deliver([]byte(p)))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("desired handler blocked")
	}
	assert.False(t, <-desired, "only the newest value is kept")
	assert.Empty(t, desired)
}

func TestPollGPIOForwardsReadings(t *testing.T) {
	reader := gpio.NewFakeReader(false, true, true)
	tick := make(chan time.Time)
	out := make(chan bool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pollGPIO(ctx, reader, tick, out, zap.NewNop().Sugar())
		close(done)
	}()

	var got []bool
	for i := 0; i < 3; i++ {
		tick <- testStart
		got = append(got, <-out)
	}
	assert.Equal(t, []bool{false, true, true}, got)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pollGPIO did not stop on cancel")
	}
}

func TestPollGPIOSkipsReadErrors(t *testing.T) {
	reader := gpio.NewFakeReader(true)
	reader.ReadError = errors.New("line gone")
	tick := make(chan time.Time)
	out := make(chan bool, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pollGPIO(ctx, reader, tick, out, zap.NewNop().Sugar())
		close(done)
	}()

	tick <- testStart
	tick <- testStart // second send proves the first read error did not stop polling
	cancel()
	<-done
	assert.Empty(t, out)
}

func validOptions() options {
	return options{
		source:    sourceGPIO,
		showDelay: 300 * ms,
		hideMin:   800 * ms,
		poll:      20 * ms,
		heartbeat: 15 * time.Minute,
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*options)
		wantErr string
	}{
		{"defaults", func(o *options) {}, ""},
		{"mqtt source ignores poll", func(o *options) { o.source = sourceMQTT; o.poll = 0 }, ""},
		{"zero durations", func(o *options) { o.showDelay = 0; o.hideMin = 0; o.heartbeat = 0 }, ""},
		{"unknown source", func(o *options) { o.source = "serial" }, "--source"},
		{"zero poll", func(o *options) { o.poll = 0 }, "--poll"},
		{"negative show delay", func(o *options) { o.showDelay = -time.Second }, "negative duration"},
		{"negative hide min", func(o *options) { o.hideMin = -time.Second }, "negative duration"},
		{"negative heartbeat", func(o *options) { o.heartbeat = -time.Second }, "--heartbeat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOptions()
			tt.mutate(&o)
			err := o.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatusConfig(t *testing.T) {
	o := validOptions()
	o.broker = "tcp://broker:1883"
	o.httpAddr = ":8080"

	cfg := o.statusConfig()
	assert.Equal(t, status.Config{
		Source:      sourceGPIO,
		ShowDelayMs: 300,
		HideMinMs:   800,
		PollMs:      20,
		HeartbeatMs: 900000,
		Broker:      "tcp://broker:1883",
		HTTPAddr:    ":8080",
	}, cfg)

	o.source = sourceMQTT
	assert.Zero(t, o.statusConfig().PollMs, "poll is only reported for the gpio source")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))

	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

func TestRootCmdDefaults(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]string{
		"source":     "gpio",
		"show-delay": "300ms",
		"hide-min":   "800ms",
		"poll":       "20ms",
		"heartbeat":  "15m0s",
		"http":       ":80",
		"led":        "true",
	}
	for name, def := range want {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, "flag --%s", name)
		assert.Equal(t, def, f.DefValue, "flag --%s", name)
	}
}

func TestRootCmdRejectsBadFlagsBeforeStarting(t *testing.T) {
	for _, args := range [][]string{
		{"--source", "serial"},
		{"--show-delay", "-1s"},
		{"--log-level", "loud"},
		{"extra-arg"},
	} {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		err := cmd.Execute()
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestOnOff(t *testing.T) {
	assert.Equal(t, "ON", onOff(true))
	assert.Equal(t, "OFF", onOff(false))
}
