// Package gpio provides the busy-signal input and indicator LED output with
// hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Reader reads the busy input line.
type Reader interface {
	// Read returns the logical busy state, with active-low inversion
	// already applied.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Indicator drives the indicator LED.
type Indicator interface {
	// Set switches the LED on or off.
	Set(on bool) error

	// Close switches the LED off and releases GPIO resources.
	Close() error
}

// Defaults (BCM numbering).
const (
	DefaultChip    = "gpiochip0"
	DefaultPinBusy = 26
	DefaultPinLED  = 16
)
