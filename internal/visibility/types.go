// Package visibility decides when a piece of content should actually be shown
// for a boolean "desired visibility" signal that may flip rapidly.
//
// A show delay suppresses brief true pulses; a hide minimum keeps content up
// for a minimum time once shown. Time is injectable via Clock.
package visibility

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNegativeDuration is returned when a Config carries a negative duration.
	ErrNegativeDuration = errors.New("visibility: negative duration")

	// ErrDisposed is returned by Update after Dispose.
	ErrDisposed = errors.New("visibility: debouncer disposed")
)

// Config holds the two debounce durations.
type Config struct {
	// ShowDelay is how long the desired signal must stay true before content is shown.
	ShowDelay time.Duration
	// HideMinDuration is the minimum time content stays shown once shown.
	HideMinDuration time.Duration
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	if c.ShowDelay < 0 {
		return fmt.Errorf("%w: show delay %v", ErrNegativeDuration, c.ShowDelay)
	}
	if c.HideMinDuration < 0 {
		return fmt.Errorf("%w: hide minimum %v", ErrNegativeDuration, c.HideMinDuration)
	}
	return nil
}

// Transition is a change of the rendered state.
type Transition string

const (
	TransitionShown  Transition = "SHOWN"
	TransitionHidden Transition = "HIDDEN"
)

// State is a point-in-time view of a Debouncer.
type State struct {
	Config           Config
	Desired          bool
	Rendered         bool
	EverRendered     bool
	ShowTimerPending bool
	HideTimerPending bool
	ShowDelayElapsed bool
	HideMinElapsed   bool
	Disposed         bool
}
