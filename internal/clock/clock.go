// Package clock tracks whether the device clock can be trusted to timestamp
// persisted records.
//
// The gate has three states. Boot always starts in Unset. Any local clock
// write moves to SetInaccurate; only a write arriving through the peer time
// sync moves to SetAccurate, after which local writes are ignored. Nothing
// moves backwards except a fresh boot, and no state is persisted: the
// oscillator is not kept across deep sleep, so accuracy cannot be assumed
// after a reset.
package clock

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the gate state.
type State int

const (
	Unset State = iota
	SetInaccurate
	SetAccurate
)

func (s State) String() string {
	switch s {
	case Unset:
		return "UNSET"
	case SetInaccurate:
		return "SET_INACCURATE"
	case SetAccurate:
		return "SET_ACCURATE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source identifies the channel a clock write arrived on.
type Source int

const (
	// SourceLocal is any on-device write (CLI flag, config, debug port).
	SourceLocal Source = iota
	// SourcePeerSync is the time sync written by the connected companion app.
	SourcePeerSync
)

// SanityFloor is the earliest epoch accepted for clock writes and log
// timestamps: 2024-01-01T00:00:00Z.
const SanityFloor uint32 = 1704067200

var (
	// ErrBelowFloor is returned for clock writes earlier than SanityFloor.
	ErrBelowFloor = errors.New("clock: time below sanity floor")
	// ErrNotAccurate is returned when logging is requested without a peer-synced clock.
	ErrNotAccurate = errors.New("clock: not synced by peer")
)

// Gate is safe for concurrent use: the radio task writes peer syncs while the
// sampler reads timestamps.
type Gate struct {
	mu    sync.RWMutex
	state State

	boot    time.Time // monotonic reference for uptime
	setAt   time.Time // monotonic instant of the last write
	setUnix uint32    // epoch seconds written at setAt

	now func() time.Time
}

// NewGate returns a gate in the Unset state. now is injectable for tests;
// nil uses time.Now.
func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{now: now, boot: now()}
}

// Set writes the device clock. Writes below SanityFloor are rejected with no
// state change. Once a peer has synced the clock, local writes are ignored so
// an unverified source cannot move accurate time under the log.
func (g *Gate) Set(epoch uint32, src Source) error {
	if epoch < SanityFloor {
		return fmt.Errorf("%w: %d", ErrBelowFloor, epoch)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == SetAccurate && src == SourceLocal {
		log.Printf("clock: ignoring local write %d, clock already synced by peer", epoch)
		return nil
	}

	g.setAt = g.now()
	g.setUnix = epoch

	switch {
	case src == SourcePeerSync:
		g.state = SetAccurate
	case g.state == Unset:
		g.state = SetInaccurate
	}
	return nil
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Now returns the device time in epoch seconds. While Unset it is an
// uptime-derived pseudo-time that must never be persisted.
func (g *Gate) Now() (uint32, State) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nowLocked(), g.state
}

func (g *Gate) nowLocked() uint32 {
	t := g.now()
	if g.state == Unset {
		return uint32(t.Sub(g.boot) / time.Second)
	}
	return g.setUnix + uint32(t.Sub(g.setAt)/time.Second)
}

// LoggingTimestamp returns the current time only when the clock was set by a
// peer sync and is past SanityFloor.
func (g *Gate) LoggingTimestamp() (uint32, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state != SetAccurate {
		return 0, fmt.Errorf("%w (state %s)", ErrNotAccurate, g.state)
	}
	ts := g.nowLocked()
	if ts < SanityFloor {
		return 0, fmt.Errorf("%w: %d", ErrBelowFloor, ts)
	}
	return ts, nil
}

// Uptime returns the time since the gate was created (boot).
func (g *Gate) Uptime() time.Duration {
	return g.now().Sub(g.boot)
}
