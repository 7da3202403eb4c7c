//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chip string, pin int, activeLow bool) (*RealReader, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}

// RealIndicator is not available on non-Linux platforms.
type RealIndicator struct{}

// NewRealIndicator returns an error on non-Linux platforms.
func NewRealIndicator(chip string, pin int) (*RealIndicator, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (i *RealIndicator) Set(on bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (i *RealIndicator) Close() error {
	return nil
}
