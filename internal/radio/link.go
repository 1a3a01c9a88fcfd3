// Package radio exposes the node over a short-range link: live readings,
// chunked history download, battery level and peer clock sync. The Service
// task owns the connection lifecycle; Link implementations carry the bytes.
package radio

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInitFailure means the link could not be brought up. The node carries on
// without radio services until the next boot.
var ErrInitFailure = errors.New("radio: init failure")

// Char identifies one characteristic of the node's service.
type Char int

const (
	CharLive         Char = iota // read, notify: "pm1,pm2_5,pm10,battery"
	CharHistory                  // read, notify, write (re-send)
	CharBattery                  // read, notify: one byte percent
	CharChunkInfo                // read: "totalChunks,cursor"
	CharChunkRequest             // write: "-1" prepares, "k" sends chunk k
	CharClock                    // read, write: epoch seconds
	numChars
)

var charNames = [numChars]string{"live", "history", "battery", "chunk_info", "chunk_request", "clock"}

func (c Char) String() string {
	if c < 0 || c >= numChars {
		return "unknown"
	}
	return charNames[c]
}

// CharByName returns the characteristic for its topic name.
func CharByName(name string) (Char, bool) {
	for i, n := range charNames {
		if n == name {
			return Char(i), true
		}
	}
	return 0, false
}

// Fixed identifiers of the node service and its characteristics.
var (
	ServiceUUID = uuid.MustParse("6e4a0001-8c3f-4f5b-9a51-2b0c7d1e3a10")

	charUUIDs = [numChars]uuid.UUID{
		CharLive:         uuid.MustParse("6e4a0002-8c3f-4f5b-9a51-2b0c7d1e3a10"),
		CharHistory:      uuid.MustParse("6e4a0003-8c3f-4f5b-9a51-2b0c7d1e3a10"),
		CharBattery:      uuid.MustParse("6e4a0004-8c3f-4f5b-9a51-2b0c7d1e3a10"),
		CharChunkInfo:    uuid.MustParse("6e4a0005-8c3f-4f5b-9a51-2b0c7d1e3a10"),
		CharChunkRequest: uuid.MustParse("6e4a0006-8c3f-4f5b-9a51-2b0c7d1e3a10"),
		CharClock:        uuid.MustParse("6e4a0007-8c3f-4f5b-9a51-2b0c7d1e3a10"),
	}
)

// UUID returns the characteristic's identifier.
func (c Char) UUID() uuid.UUID {
	if c < 0 || c >= numChars {
		return uuid.Nil
	}
	return charUUIDs[c]
}

// EventKind is the type of a link event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventWrite
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Event is a peer action delivered by a Link.
type Event struct {
	Kind  EventKind
	Char  Char   // EventWrite only
	Value []byte // EventWrite only
}

// Link is a peripheral-side transport. Events are delivered on a buffered
// channel; implementations drop events rather than block their callers.
type Link interface {
	// Start brings up the stack and registers the service. Failures wrap
	// ErrInitFailure.
	Start() error
	StartAdvertising() error
	StopAdvertising() error
	// SetValue updates a characteristic's readable value.
	SetValue(c Char, value []byte) error
	// Notify updates the value and pushes it to a subscribed peer.
	Notify(c Char, value []byte) error
	Events() <-chan Event
	Close() error
}

const eventBuffer = 16
