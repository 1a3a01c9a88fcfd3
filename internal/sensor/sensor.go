// Package sensor reads particulate concentrations from the air-quality sensor.
// The real implementation drives a PMS5003 over a serial port.
// The simulator and fake allow running and testing without hardware.
package sensor

import (
	"context"
	"errors"

	"github.com/sweeney/air-sensor/internal/record"
)

var (
	// ErrUnavailable means the sensor is missing or produced an unusable frame.
	ErrUnavailable = errors.New("sensor: unavailable")
	// ErrTimeout means no complete frame arrived in time.
	ErrTimeout = errors.New("sensor: timeout")
)

// Reading is one measurement. Concentrations are µg/m³.
type Reading struct {
	// Atmospheric-environment concentrations, used for logging and AQI.
	PM1  uint16
	PM25 uint16
	PM10 uint16

	// Standard-particle (CF=1) concentrations.
	PM1Std  uint16
	PM25Std uint16
	PM10Std uint16

	// Particles per 0.1 L above each size threshold.
	Counts [record.NumBins]uint16
}

// Sensor produces one Reading per call.
type Sensor interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}
