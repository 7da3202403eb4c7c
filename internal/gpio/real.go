//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the busy line from actual hardware using the Linux GPIO
// character device.
type RealReader struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealReader requests the busy line as an input.
// With activeLow, a raw low level reads as busy.
func NewRealReader(chip string, pin int, activeLow bool) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// Pull-down matches Pi boot defaults so a floating input reads idle.
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := c.RequestLine(pin, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request busy pin %d: %w", pin, err)
	}

	return &RealReader{chip: c, line: line}, nil
}

// Read returns the logical busy state.
func (r *RealReader) Read() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read busy pin: %w", err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close busy pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealIndicator drives the LED line as an output.
type RealIndicator struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealIndicator requests the LED line as an output, initially off.
func NewRealIndicator(chip string, pin int) (*RealIndicator, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := c.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request led pin %d: %w", pin, err)
	}

	return &RealIndicator{chip: c, line: line}, nil
}

// Set switches the LED on or off.
func (i *RealIndicator) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := i.line.SetValue(v); err != nil {
		return fmt.Errorf("set led pin: %w", err)
	}
	return nil
}

// Close switches the LED off and reconfigures the line as an input with
// pull-down (matching Pi boot defaults) before releasing it.
func (i *RealIndicator) Close() error {
	var errs []error

	if i.line != nil {
		if err := i.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch led off: %w", err))
		}
		if err := i.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure led pin: %w", err))
		}
		if err := i.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close led pin: %w", err))
		}
	}
	if i.chip != nil {
		if err := i.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
