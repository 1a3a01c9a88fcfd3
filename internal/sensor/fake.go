package sensor

import (
	"context"
	"errors"
	"sync"
)

// FakeSensor is a test double that returns scripted readings.
type FakeSensor struct {
	mu sync.Mutex

	// Readings contains scripted values. Each Read consumes the next one;
	// once exhausted the last is repeated.
	Readings []Reading

	// ReadError, if set, is returned by Read instead of a reading.
	ReadError error

	Reads  int
	Closed bool

	index int
}

// NewFakeSensor creates a FakeSensor with the given readings.
func NewFakeSensor(readings ...Reading) *FakeSensor {
	return &FakeSensor{Readings: readings}
}

func (f *FakeSensor) Read(ctx context.Context) (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Reads++
	if f.ReadError != nil {
		return Reading{}, f.ReadError
	}
	if len(f.Readings) == 0 {
		return Reading{}, errors.New("no readings configured")
	}
	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}

// SetError changes ReadError under the lock.
func (f *FakeSensor) SetError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

func (f *FakeSensor) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
