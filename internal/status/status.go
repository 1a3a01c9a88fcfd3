// Package status provides a thread-safe status tracker for the air-sensor daemon.
// It is read by HTTP handlers; the sampling and radio tasks only write to it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/air-sensor/internal/logic"
)

// Reading is the latest sample. This is a local copy to avoid importing
// internal/record from status.
type Reading struct {
	Time    time.Time
	PM1     uint16
	PM25    uint16
	PM10    uint16
	Battery uint8
	AQI     int
}

// StorageInfo describes the log store.
type StorageInfo struct {
	Active     string
	WriteIndex uint64
	Retained   uint64
	Capacity   uint64
	Health     string
	Logged     int
	Dropped    int
}

// RadioInfo describes the radio link.
type RadioInfo struct {
	Link       string
	State      string
	Connected  bool
	LiveSent   int
	ChunksSent int
}

// Config contains daemon configuration for display.
type Config struct {
	SampleMs   int64
	DeepMs     int64
	PowerMode  string
	Link       string
	DeviceName string
	Broker     string
	HTTPAddr   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Level      logic.Level
	Baselined  bool
	Counts     logic.EventCounts
	Latest     *Reading
	LastError  string
	ClockState string
	Storage    StorageInfo
	Radio      RadioInfo
	StartTime  time.Time
	Now        time.Time
	Config     Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Config:     cfg,
			ClockState: "UNSET",
		},
	}
}

// UpdateReading records a completed sample and the classifier state.
// Called by the sampler every cycle.
func (t *Tracker) UpdateReading(r Reading, level logic.Level, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Latest = &r
	t.snap.Level = level
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetLastError records the most recent sampling problem; empty clears it.
func (t *Tracker) SetLastError(msg string) {
	t.mu.Lock()
	t.snap.LastError = msg
	t.mu.Unlock()
}

// SetClock sets the clock gate state name.
func (t *Tracker) SetClock(state string) {
	t.mu.Lock()
	t.snap.ClockState = state
	t.mu.Unlock()
}

// SetStorage replaces the storage info, keeping the logged/dropped counters.
func (t *Tracker) SetStorage(info StorageInfo) {
	t.mu.Lock()
	info.Logged = t.snap.Storage.Logged
	info.Dropped = t.snap.Storage.Dropped
	t.snap.Storage = info
	t.mu.Unlock()
}

// CountLogged increments the logged or dropped sample counter.
func (t *Tracker) CountLogged(ok bool) {
	t.mu.Lock()
	if ok {
		t.snap.Storage.Logged++
	} else {
		t.snap.Storage.Dropped++
	}
	t.mu.Unlock()
}

// SetRadio sets the radio info.
func (t *Tracker) SetRadio(info RadioInfo) {
	t.mu.Lock()
	t.snap.Radio = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Latest != nil {
		r := *s.Latest
		s.Latest = &r
	}
	if s.Counts != nil {
		counts := make(logic.EventCounts, len(s.Counts))
		for k, v := range s.Counts {
			counts[k] = v
		}
		s.Counts = counts
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
