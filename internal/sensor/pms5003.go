package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/sweeney/air-sensor/internal/record"
)

const (
	// DefaultBaudRate is fixed by the PMS5003 datasheet.
	DefaultBaudRate = 9600
	// DefaultTimeout covers at least one full active-mode reporting period.
	DefaultTimeout = 3 * time.Second

	// FrameSize is the length of one PMS5003 data frame.
	FrameSize = 32

	start1      = 0x42
	start2      = 0x4d
	frameLength = FrameSize - 4 // length field counts data words + checksum
)

// ParseFrame decodes one 32-byte frame: start bytes, length, 13 big-endian
// data words and a checksum over the preceding 30 bytes.
func ParseFrame(b []byte) (Reading, error) {
	if len(b) != FrameSize {
		return Reading{}, fmt.Errorf("%w: frame of %d bytes", ErrUnavailable, len(b))
	}
	if b[0] != start1 || b[1] != start2 {
		return Reading{}, fmt.Errorf("%w: bad start bytes %#02x %#02x", ErrUnavailable, b[0], b[1])
	}
	if n := binary.BigEndian.Uint16(b[2:4]); n != frameLength {
		return Reading{}, fmt.Errorf("%w: frame length %d", ErrUnavailable, n)
	}
	var sum uint16
	for _, c := range b[:FrameSize-2] {
		sum += uint16(c)
	}
	if want := binary.BigEndian.Uint16(b[FrameSize-2:]); sum != want {
		return Reading{}, fmt.Errorf("%w: checksum %#04x, frame says %#04x", ErrUnavailable, sum, want)
	}

	word := func(i int) uint16 { return binary.BigEndian.Uint16(b[4+2*i:]) }
	r := Reading{
		PM1Std:  word(0),
		PM25Std: word(1),
		PM10Std: word(2),
		PM1:     word(3),
		PM25:    word(4),
		PM10:    word(5),
	}
	for i := 0; i < record.NumBins; i++ {
		r.Counts[i] = word(6 + i)
	}
	return r, nil
}

// PMS5003 reads active-mode frames from a serial port.
type PMS5003 struct {
	mu      sync.Mutex
	port    serial.Port
	timeout time.Duration
}

// OpenPMS5003 opens the serial port at 9600 8N1.
func OpenPMS5003(portName string, baudRate int, timeout time.Duration) (*PMS5003, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, portName, err)
	}
	// Short per-read timeout so the frame deadline and ctx are honoured.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrUnavailable, err)
	}
	return &PMS5003{port: port, timeout: timeout}, nil
}

// Read discards stale input and returns the next valid frame.
func (p *PMS5003) Read(ctx context.Context) (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.port.ResetInputBuffer(); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return readFrame(ctx, p.port, time.Now().Add(p.timeout))
}

// readFrame syncs on the start bytes and reads one frame from r. r returns
// (0, nil) when its own short read timeout expires.
func readFrame(ctx context.Context, r io.Reader, deadline time.Time) (Reading, error) {
	frame := make([]byte, FrameSize)
	have := 0
	one := make([]byte, 1)

	for have < FrameSize {
		if err := ctx.Err(); err != nil {
			return Reading{}, err
		}
		if time.Now().After(deadline) {
			return Reading{}, ErrTimeout
		}

		var n int
		var err error
		if have < 2 {
			n, err = r.Read(one)
			if n == 1 {
				switch {
				case have == 0 && one[0] == start1:
					frame[0] = start1
					have = 1
				case have == 1 && one[0] == start2:
					frame[1] = start2
					have = 2
				case one[0] == start1:
					have = 1
				default:
					have = 0
				}
			}
		} else {
			n, err = r.Read(frame[have:])
			have += n
		}
		if err != nil && err != io.EOF {
			return Reading{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if err == io.EOF && n == 0 {
			return Reading{}, fmt.Errorf("%w: port closed", ErrUnavailable)
		}
	}
	return ParseFrame(frame)
}

func (p *PMS5003) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}
