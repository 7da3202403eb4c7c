package visibility

import (
	"sync"

	"go.uber.org/zap"
)

// Debouncer tracks desired visibility and exposes a rendered state that
// honours the show delay and the hide minimum.
//
// Timer callbacks and Update may run on different goroutines; all state is
// guarded by mu. Lifecycle callbacks run outside the lock, one at a time, in
// the order their transitions were committed.
type Debouncer struct {
	mu    sync.Mutex
	clock Clock
	log   *zap.SugaredLogger

	onShown  func()
	onHidden func()

	cfg              Config
	desired          bool
	rendered         bool
	everRendered     bool
	showDelayElapsed bool
	hideMinElapsed   bool
	disposed         bool

	// A nil timer is not pending. Generations invalidate fires that were
	// already queued when the timer was stopped.
	showTimer Timer
	hideTimer Timer
	showGen   uint64
	hideGen   uint64

	pending     []Transition
	dispatching bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock sets the clock used for timers. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

// WithOnShown sets the callback invoked on every HIDDEN to SHOWN transition.
func WithOnShown(f func()) Option {
	return func(d *Debouncer) { d.onShown = f }
}

// WithOnHidden sets the callback invoked on every SHOWN to HIDDEN transition.
func WithOnHidden(f func()) Option {
	return func(d *Debouncer) { d.onHidden = f }
}

// WithLogger sets the logger used for recovered callback panics.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Debouncer) { d.log = l }
}

// New creates a Debouncer for the initial desired value.
// Content is rendered immediately only when cfg.ShowDelay is zero and desired
// is true; in that case onShown fires before New returns. Otherwise a show
// timer starts if desired is true.
func New(desired bool, cfg Config, opts ...Option) (*Debouncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Debouncer{
		clock:   SystemClock,
		log:     zap.NewNop().Sugar(),
		cfg:     cfg,
		desired: desired,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.mu.Lock()
	if desired {
		d.startShowTimer()
	}
	d.reconcile()
	d.mu.Unlock()

	d.dispatch()
	return d, nil
}

// Update supplies the latest desired value and configuration.
// Calling it with unchanged values is a no-op. A changed duration restarts
// its pending timer from now under the new value. After Dispose it returns
// ErrDisposed whatever the arguments.
func (d *Debouncer) Update(desired bool, cfg Config) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	if err := cfg.Validate(); err != nil {
		d.mu.Unlock()
		return err
	}

	d.reconfigure(cfg)
	if desired != d.desired {
		d.desired = desired
		d.scheduleForDesired()
	}
	d.reconcile()
	d.mu.Unlock()

	d.dispatch()
	return nil
}

// IsRendered reports whether content should currently be shown.
// It reports false once the Debouncer is disposed.
func (d *Debouncer) IsRendered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rendered && !d.disposed
}

// State returns a snapshot of the internal state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		Config:           d.cfg,
		Desired:          d.desired,
		Rendered:         d.rendered && !d.disposed,
		EverRendered:     d.everRendered,
		ShowTimerPending: d.showTimer != nil,
		HideTimerPending: d.hideTimer != nil,
		ShowDelayElapsed: d.showDelayElapsed,
		HideMinElapsed:   d.hideMinElapsed,
		Disposed:         d.disposed,
	}
}

// Dispose cancels both timers and drops undelivered notifications.
// Timer fires already in flight become no-ops. Dispose is idempotent.
func (d *Debouncer) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return
	}
	d.disposed = true
	d.stopShowTimer()
	d.stopHideTimer()
	d.pending = nil
}

// reconfigure applies new durations, restarting pending timers.
func (d *Debouncer) reconfigure(cfg Config) {
	if cfg.ShowDelay != d.cfg.ShowDelay {
		d.cfg.ShowDelay = cfg.ShowDelay
		if d.showTimer != nil {
			d.startShowTimer()
		}
	}
	if cfg.HideMinDuration != d.cfg.HideMinDuration {
		d.cfg.HideMinDuration = cfg.HideMinDuration
		if d.hideTimer != nil {
			d.startHideTimer()
		}
	}
}

// scheduleForDesired adjusts timers after the desired value changed.
// Only called on an actual change, never on redundant updates.
func (d *Debouncer) scheduleForDesired() {
	switch {
	case d.desired && !d.rendered:
		d.stopHideTimer()
		d.startShowTimer()
	case !d.desired && d.rendered:
		// The hide timer is anchored to the moment content was shown
		// and keeps running.
		d.stopShowTimer()
	case !d.desired && !d.rendered:
		d.stopShowTimer()
		d.showDelayElapsed = false
	}
}

// reconcile commits at most one transition for the current inputs.
func (d *Debouncer) reconcile() {
	switch {
	case !d.rendered && d.desired && (d.cfg.ShowDelay == 0 || d.showDelayElapsed):
		d.rendered = true
		d.everRendered = true
		d.stopShowTimer()
		d.startHideTimer()
		d.pending = append(d.pending, TransitionShown)

	case d.rendered && !d.desired && (d.cfg.HideMinDuration == 0 || d.hideMinElapsed):
		d.rendered = false
		d.stopHideTimer()
		d.showDelayElapsed = false
		d.hideMinElapsed = false
		if d.everRendered {
			d.pending = append(d.pending, TransitionHidden)
		}
	}
}

func (d *Debouncer) startShowTimer() {
	d.stopShowTimer()
	d.showDelayElapsed = false
	if d.cfg.ShowDelay <= 0 {
		return
	}
	gen := d.showGen
	d.showTimer = d.clock.AfterFunc(d.cfg.ShowDelay, func() { d.showDelayFired(gen) })
}

func (d *Debouncer) stopShowTimer() {
	if d.showTimer != nil {
		d.showTimer.Stop()
		d.showTimer = nil
	}
	d.showGen++
}

func (d *Debouncer) startHideTimer() {
	d.stopHideTimer()
	d.hideMinElapsed = false
	if d.cfg.HideMinDuration <= 0 {
		// A zero minimum has elapsed, even if the minimum is raised later.
		d.hideMinElapsed = true
		return
	}
	gen := d.hideGen
	d.hideTimer = d.clock.AfterFunc(d.cfg.HideMinDuration, func() { d.hideMinFired(gen) })
}

func (d *Debouncer) stopHideTimer() {
	if d.hideTimer != nil {
		d.hideTimer.Stop()
		d.hideTimer = nil
	}
	d.hideGen++
}

func (d *Debouncer) showDelayFired(gen uint64) {
	d.mu.Lock()
	if d.disposed || gen != d.showGen {
		d.mu.Unlock()
		return
	}
	d.showTimer = nil
	d.showDelayElapsed = true
	d.reconcile()
	d.mu.Unlock()

	d.dispatch()
}

func (d *Debouncer) hideMinFired(gen uint64) {
	d.mu.Lock()
	if d.disposed || gen != d.hideGen {
		d.mu.Unlock()
		return
	}
	d.hideTimer = nil
	d.hideMinElapsed = true
	d.reconcile()
	d.mu.Unlock()

	d.dispatch()
}

// dispatch delivers queued transitions. If another call is already
// delivering (a nested Update from inside a callback, or a timer on another
// goroutine), it returns and leaves the queue to that call.
func (d *Debouncer) dispatch() {
	d.mu.Lock()
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true
	for len(d.pending) > 0 && !d.disposed {
		t := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.notify(t)

		d.mu.Lock()
	}
	d.dispatching = false
	d.mu.Unlock()
}

func (d *Debouncer) notify(t Transition) {
	f := d.onShown
	if t == TransitionHidden {
		f = d.onHidden
	}
	if f == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("visibility callback panicked", "transition", t, "panic", r)
		}
	}()
	f()
}
