// Package led drives the node's visual status indicator: a steady colour for
// the current air-quality level and blink codes for errors.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package led

import "github.com/sweeney/air-sensor/internal/logic"

// Code is a stable error identifier shown on the indicator.
// It is a string newtype, comparable, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	SensorUnavailable  Code = "sensor_unavailable"
	SensorTimeout      Code = "sensor_timeout"
	StorageWrite       Code = "storage_write_failure"
	BackendUnavailable Code = "storage_backend_unavailable"
	RadioInit          Code = "radio_init_failure"
)

// Blinks returns the number of red blinks that identify c.
func (c Code) Blinks() int {
	switch c {
	case SensorUnavailable:
		return 2
	case SensorTimeout:
		return 3
	case StorageWrite:
		return 4
	case BackendUnavailable:
		return 5
	case RadioInit:
		return 6
	default:
		return 1
	}
}

// Color is a bit set of the three LED channels.
type Color uint8

const (
	Off   Color = 0
	Red   Color = 1 << 0
	Green Color = 1 << 1
	Blue  Color = 1 << 2

	Yellow  = Red | Green
	Magenta = Red | Blue
	Cyan    = Green | Blue
	White   = Red | Green | Blue
)

// LevelColor maps an air-quality level onto the indicator colour.
func LevelColor(l logic.Level) Color {
	switch l {
	case logic.LevelGood:
		return Green
	case logic.LevelModerate:
		return Yellow
	case logic.LevelUnhealthyForSensitive, logic.LevelUnhealthy:
		return Red
	case logic.LevelVeryUnhealthy, logic.LevelHazardous:
		return Magenta
	default:
		return Off
	}
}

// Indicator shows status. Implementations must not block the caller.
type Indicator interface {
	ShowLevel(level logic.Level)
	ShowError(code Code)
	Close() error
}

// Default pin assignments (BCM numbering).
const (
	PinRed   = 17
	PinGreen = 27
	PinBlue  = 22
)
