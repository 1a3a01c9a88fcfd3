// Package record defines the persisted log record, its fixed-size binary
// encoding, and the text forms used on the radio link.
package record

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// Size is the encoded length of a LogRecord.
// Layout (little-endian): timestamp u32 | pm1 u16 | pm2.5 u16 | pm10 u16 | battery u8.
const Size = 11

// LegacySize is the encoded length of the pre-battery schema still found in
// old key-value flash images: timestamp u32 | pm1 u16 | pm2.5 u16 | pm10 u16.
const LegacySize = 10

// ErrCorruptRecord is returned when bytes cannot be decoded into a record.
var ErrCorruptRecord = errors.New("record: corrupt record")

// LogRecord is one persisted reading. Immutable once written.
type LogRecord struct {
	Timestamp uint32 // seconds since Unix epoch
	PM1       uint16 // µg/m³ (atmospheric environment)
	PM25      uint16
	PM10      uint16
	Battery   uint8 // percent
}

// Encode returns the fixed-size binary form of r.
func Encode(r LogRecord) [Size]byte {
	var b [Size]byte
	binary.LittleEndian.PutUint32(b[0:4], r.Timestamp)
	binary.LittleEndian.PutUint16(b[4:6], r.PM1)
	binary.LittleEndian.PutUint16(b[6:8], r.PM25)
	binary.LittleEndian.PutUint16(b[8:10], r.PM10)
	b[10] = r.Battery
	return b
}

// Decode parses the current schema. Extra trailing bytes are ignored.
func Decode(b []byte) (LogRecord, error) {
	if len(b) < Size {
		return LogRecord{}, ErrCorruptRecord
	}
	return LogRecord{
		Timestamp: binary.LittleEndian.Uint32(b[0:4]),
		PM1:       binary.LittleEndian.Uint16(b[4:6]),
		PM25:      binary.LittleEndian.Uint16(b[6:8]),
		PM10:      binary.LittleEndian.Uint16(b[8:10]),
		Battery:   b[10],
	}, nil
}

// DecodeAny decodes either the current or the legacy schema, up-converting
// legacy records to the current shape (battery unknown, reported as 0).
func DecodeAny(b []byte) (LogRecord, error) {
	switch len(b) {
	case Size:
		return Decode(b)
	case LegacySize:
		return LogRecord{
			Timestamp: binary.LittleEndian.Uint32(b[0:4]),
			PM1:       binary.LittleEndian.Uint16(b[4:6]),
			PM25:      binary.LittleEndian.Uint16(b[6:8]),
			PM10:      binary.LittleEndian.Uint16(b[8:10]),
		}, nil
	default:
		return LogRecord{}, ErrCorruptRecord
	}
}

// EncodeLegacy returns the pre-battery binary form of r. Only used to build
// legacy flash images (tests, bench tooling).
func EncodeLegacy(r LogRecord) [LegacySize]byte {
	var b [LegacySize]byte
	binary.LittleEndian.PutUint32(b[0:4], r.Timestamp)
	binary.LittleEndian.PutUint16(b[4:6], r.PM1)
	binary.LittleEndian.PutUint16(b[6:8], r.PM25)
	binary.LittleEndian.PutUint16(b[8:10], r.PM10)
	return b
}

// AppendText appends the history serialisation of r to dst:
// "timestamp,pm1,pm2_5,pm10,battery;".
func AppendText(dst []byte, r LogRecord) []byte {
	dst = strconv.AppendUint(dst, uint64(r.Timestamp), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.PM1), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.PM25), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.PM10), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.Battery), 10)
	return append(dst, ';')
}
