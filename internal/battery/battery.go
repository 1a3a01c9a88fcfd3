// Package battery reports the remaining battery charge as a percentage.
package battery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultSysfsPath is the Linux power-supply capacity attribute.
const DefaultSysfsPath = "/sys/class/power_supply/battery/capacity"

// ErrNoBattery means the power-supply attribute does not exist.
var ErrNoBattery = errors.New("battery: not present")

// Reader returns the battery percentage, 0..100.
type Reader interface {
	Percent() (uint8, error)
}

// Sysfs reads a power_supply capacity attribute.
type Sysfs struct {
	Path string
}

func (s Sysfs) Percent() (uint8, error) {
	path := s.Path
	if path == "" {
		path = DefaultSysfsPath
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNoBattery, path)
	}
	if err != nil {
		return 0, fmt.Errorf("battery: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("battery: parse %q: %w", path, err)
	}
	return clampPercent(n), nil
}

// Fixed always reports the same value, for mains-powered nodes.
type Fixed uint8

func (f Fixed) Percent() (uint8, error) { return clampPercent(int(f)), nil }

func clampPercent(n int) uint8 {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return uint8(n)
	}
}

// FakeBattery is a test double with a settable level.
type FakeBattery struct {
	mu        sync.Mutex
	Level     uint8
	ReadError error
}

func (f *FakeBattery) Percent() (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Level, nil
}

// Set changes the reported level.
func (f *FakeBattery) Set(level uint8) {
	f.mu.Lock()
	f.Level = level
	f.mu.Unlock()
}
