package gpio

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted busy values.
type FakeReader struct {
	mu sync.Mutex

	// Samples contains scripted busy values to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	f.index = 0
	f.Closed = false
	f.mu.Unlock()
}

// FakeIndicator records LED writes.
type FakeIndicator struct {
	mu     sync.Mutex
	writes []bool
	on     bool
	closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeIndicator creates a FakeIndicator with the LED off.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records the write.
func (f *FakeIndicator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.writes = append(f.writes, on)
	f.on = on
	return nil
}

// Close switches the fake LED off and marks it closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	f.on = false
	f.closed = true
	f.mu.Unlock()
	return nil
}

// On reports the last value written.
func (f *FakeIndicator) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Writes returns a copy of every value written, in order.
func (f *FakeIndicator) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

// Closed reports whether Close was called.
func (f *FakeIndicator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
