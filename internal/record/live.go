package record

import (
	"strconv"

	"github.com/sweeney/air-sensor/internal/logic"
)

// Particle-count bins reported by the sensor, in 0.1 L of air.
const (
	Bin0_3 = iota // > 0.3 µm
	Bin0_5
	Bin1_0
	Bin2_5
	Bin5_0
	Bin10
	NumBins
)

// LiveReading is the in-memory superset of LogRecord published every sample
// cycle. Exactly one is current; it is never persisted.
type LiveReading struct {
	LogRecord

	// Standard-particle (CF=1) concentrations, µg/m³.
	PM1Std  uint16
	PM25Std uint16
	PM10Std uint16

	Counts [NumBins]uint16

	AQI   int
	Level logic.Level
}

// Record returns the persisted subset of the reading.
func (l LiveReading) Record() LogRecord {
	return l.LogRecord
}

// LiveText returns the Live Data characteristic payload "pm1,pm2_5,pm10,battery".
func (l LiveReading) LiveText() []byte {
	b := make([]byte, 0, 24)
	b = strconv.AppendUint(b, uint64(l.PM1), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(l.PM25), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(l.PM10), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(l.Battery), 10)
	return b
}
