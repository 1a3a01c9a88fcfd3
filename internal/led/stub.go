//go:build !linux

package led

import "errors"

// GPIOIndicator is not available on non-Linux platforms.
type GPIOIndicator struct{ Nop }

// NewGPIOIndicator returns an error on non-Linux platforms.
func NewGPIOIndicator(chipName string, pinR, pinG, pinB int) (*GPIOIndicator, error) {
	return nil, errors.New("led: gpio not supported on this platform (requires Linux)")
}
