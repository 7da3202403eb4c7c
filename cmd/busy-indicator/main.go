// Command busy-indicator lights a status LED while a busy signal is active,
// without flicker: short busy pulses never light it, and once lit it stays lit
// for a minimum time. Transitions are published to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/busy-indicator/internal/gpio"
	"github.com/sweeney/busy-indicator/internal/mqtt"
	"github.com/sweeney/busy-indicator/internal/status"
	"github.com/sweeney/busy-indicator/internal/visibility"
	"github.com/sweeney/busy-indicator/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:          "busy-indicator",
		Short:        "Debounced busy indicator LED with MQTT reporting",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			logger, err := newLogger(o.logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return run(o, logger.Sugar())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.source, "source", sourceGPIO, `Busy signal source: "gpio" or "mqtt"`)
	f.DurationVar(&o.showDelay, "show-delay", 300*time.Millisecond, "How long the busy signal must hold before the LED lights")
	f.DurationVar(&o.hideMin, "hide-min", 800*time.Millisecond, "Minimum time the LED stays lit once lit")
	f.DurationVar(&o.poll, "poll", 20*time.Millisecond, "GPIO polling interval (gpio source)")
	f.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	f.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	f.StringVar(&o.chip, "chip", gpio.DefaultChip, "GPIO chip name")
	f.IntVar(&o.pinBusy, "pin-busy", gpio.DefaultPinBusy, "BCM pin number for the busy input")
	f.IntVar(&o.pinLED, "pin-led", gpio.DefaultPinLED, "BCM pin number for the indicator LED")
	f.BoolVar(&o.activeLow, "active-low", false, "Treat a low busy input as busy")
	f.BoolVar(&o.led, "led", true, "Drive the indicator LED")
	f.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	f.BoolVar(&o.printState, "print-state", false, "Print the busy input state and exit")
	f.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

func run(o options, log *zap.SugaredLogger) error {
	if o.printState {
		return printState(o)
	}

	publisher, err := mqtt.NewRealPublisher(o.broker, log.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	var led gpio.Indicator
	if o.led {
		ind, err := gpio.NewRealIndicator(o.chip, o.pinLED)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		defer ind.Close()
		led = ind
	}

	tracker := status.NewTracker(time.Now(), o.statusConfig())
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warnw("failed to publish startup event", "error", err)
	} else {
		log.Infow("published startup event")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	desired := make(chan bool, 1)
	switch o.source {
	case sourceGPIO:
		reader, err := gpio.NewRealReader(o.chip, o.pinBusy, o.activeLow)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer reader.Close()

		ticker := time.NewTicker(o.poll)
		defer ticker.Stop()
		g.Go(func() error {
			pollGPIO(ctx, reader, ticker.C, desired, log)
			return nil
		})

	case sourceMQTT:
		// paho delivers in order on its router goroutine, so the handler must not block.
		err := publisher.SubscribeDesired(func(v bool) { sendLatest(desired, v) })
		if err != nil {
			return fmt.Errorf("subscribe desired: %w", err)
		}
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, log.Named("web"))
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		log.Infow("http status server listening", "addr", o.httpAddr)
	}

	var heartbeat <-chan time.Time
	if o.heartbeat > 0 {
		t := time.NewTicker(o.heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	l := &loop{
		publisher:  publisher,
		mqttStatus: publisher,
		led:        led,
		tracker:    tracker,
		cfg:        o.visibilityConfig(),
		clock:      visibility.SystemClock,
		log:        log,
	}

	log.Infow("started",
		"source", o.source,
		"show_delay", o.showDelay,
		"hide_min", o.hideMin,
		"broker", o.broker,
		"heartbeat", o.heartbeat,
	)

	g.Go(func() error {
		defer cancel()
		return l.run(ctx, desired, heartbeat, sigCh)
	})
	return g.Wait()
}

func printState(o options) error {
	reader, err := gpio.NewRealReader(o.chip, o.pinBusy, o.activeLow)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	busy, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	fmt.Printf("BUSY: %s\n", onOff(busy))
	return nil
}

// sendLatest hands v to the loop without blocking. If an earlier value is
// still waiting it is replaced. ch must have a buffer and a single sender.
func sendLatest(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// pollGPIO samples the busy line on every tick and forwards each reading.
// Repeated values are harmless: the debouncer ignores redundant updates.
func pollGPIO(ctx context.Context, r gpio.Reader, tick <-chan time.Time, out chan<- bool, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			v, err := r.Read()
			if err != nil {
				log.Warnw("gpio read error", "error", err)
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
