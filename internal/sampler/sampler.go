// Package sampler runs the sampling/logging loop: read the sensor and
// battery, classify, publish the live reading, and append it to the log
// store when the clock can be trusted.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/air-sensor/internal/battery"
	"github.com/sweeney/air-sensor/internal/clock"
	"github.com/sweeney/air-sensor/internal/led"
	"github.com/sweeney/air-sensor/internal/logic"
	"github.com/sweeney/air-sensor/internal/record"
	"github.com/sweeney/air-sensor/internal/sensor"
	"github.com/sweeney/air-sensor/internal/slot"
	"github.com/sweeney/air-sensor/internal/status"
	"github.com/sweeney/air-sensor/internal/storage"
)

// PowerMode selects the inter-cycle sleep depth.
type PowerMode int

const (
	LightSleep PowerMode = iota
	DeepSleep
)

func (m PowerMode) String() string {
	if m == DeepSleep {
		return "deep"
	}
	return "light"
}

// ParsePowerMode accepts "light" or "deep".
func ParsePowerMode(s string) (PowerMode, error) {
	switch s {
	case "", "light":
		return LightSleep, nil
	case "deep":
		return DeepSleep, nil
	default:
		return LightSleep, fmt.Errorf("sampler: unknown power mode %q", s)
	}
}

// Store is the append side of the log store.
type Store interface {
	Append(rec record.LogRecord) (uint64, error)
}

// Clock supplies device time and the logging gate.
type Clock interface {
	Now() (uint32, clock.State)
	LoggingTimestamp() (uint32, error)
}

// Sleeper suspends the loop between cycles. It returns early with ctx.Err()
// on shutdown.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds the task timing.
type Config struct {
	LightInterval time.Duration
	DeepInterval  time.Duration
	Mode          PowerMode
	LockTimeout   time.Duration // bounded wait on the shared slot
	Debounce      time.Duration // level must hold this long before the indicator changes
}

// Task is the sampling/logging task. It is driven by one goroutine.
type Task struct {
	sensor    sensor.Sensor
	battery   battery.Reader
	slot      *slot.Slot
	store     Store
	clock     Clock
	indicator led.Indicator
	tracker   *status.Tracker // optional
	sleeper   Sleeper
	detector  *logic.Detector
	cfg       Config
	now       func() time.Time

	lastBattery uint8
	batteryOK   bool
	clockKnown  bool
	clockOK     bool
}

// Deps are the task's collaborators.
type Deps struct {
	Sensor    sensor.Sensor
	Battery   battery.Reader
	Slot      *slot.Slot
	Store     Store
	Clock     Clock
	Indicator led.Indicator
	Tracker   *status.Tracker
	Sleeper   Sleeper
	Now       func() time.Time
}

// New creates a Task. Missing Sleeper, Indicator and Now get defaults.
func New(d Deps, cfg Config) *Task {
	if d.Sleeper == nil {
		d.Sleeper = TimerSleeper{}
	}
	if d.Indicator == nil {
		d.Indicator = led.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 100 * time.Millisecond
	}
	return &Task{
		sensor:    d.Sensor,
		battery:   d.Battery,
		slot:      d.Slot,
		store:     d.Store,
		clock:     d.Clock,
		indicator: d.Indicator,
		tracker:   d.Tracker,
		sleeper:   d.Sleeper,
		detector:  logic.NewDetector(cfg.Debounce, d.Now()),
		cfg:       cfg,
		now:       d.Now,
		batteryOK: true,
	}
}

// Result describes one cycle.
type Result struct {
	Reading   record.LiveReading
	Published bool
	Logged    bool
	Index     uint64
	// Err is the sensor error for a skipped cycle, or the append error for a
	// dropped sample. A clock that is not yet accurate is not an error.
	Err error
}

// Run loops Step and the power-mode sleep until ctx is cancelled.
func (t *Task) Run(ctx context.Context) error {
	log.Printf("sampler: started (interval %s, mode %s)", t.interval(), t.cfg.Mode)
	for {
		t.Step(ctx)
		if err := t.sleeper.Sleep(ctx, t.interval()); err != nil {
			log.Printf("sampler: stopped")
			return nil
		}
	}
}

func (t *Task) interval() time.Duration {
	if t.cfg.Mode == DeepSleep && t.cfg.DeepInterval > 0 {
		return t.cfg.DeepInterval
	}
	return t.cfg.LightInterval
}

// Step runs one sample cycle. It never returns an error; problems are shown
// on the indicator and reported in the Result.
func (t *Task) Step(ctx context.Context) Result {
	raw, err := t.sensor.Read(ctx)
	if err != nil {
		code := led.SensorUnavailable
		if errors.Is(err, sensor.ErrTimeout) {
			code = led.SensorTimeout
		}
		log.Printf("sampler: sensor read failed, skipping cycle: %v", err)
		t.indicator.ShowError(code)
		t.setError(string(code))
		return Result{Err: err}
	}

	bat := t.readBattery()
	ts, clockState := t.clock.Now()
	live := record.LiveReading{
		LogRecord: record.LogRecord{
			Timestamp: ts,
			PM1:       raw.PM1,
			PM25:      raw.PM25,
			PM10:      raw.PM10,
			Battery:   bat,
		},
		PM1Std:  raw.PM1Std,
		PM25Std: raw.PM25Std,
		PM10Std: raw.PM10Std,
		Counts:  raw.Counts,
		AQI:     logic.AQI(raw.PM25),
		Level:   logic.Classify(raw.PM25),
	}
	res := Result{Reading: live}

	if ev := t.detector.Process(logic.Input{PM25: raw.PM25, Time: t.now()}); ev != nil {
		log.Printf("sampler: air quality %s -> %s (AQI %d)", ev.From, ev.To, ev.AQI)
	}

	if err := t.slot.Publish(ctx, live, t.cfg.LockTimeout); err != nil {
		log.Printf("sampler: live slot busy, skipping publish this cycle")
	} else {
		res.Published = true
	}

	res.Index, res.Logged, res.Err = t.persist(live.Record())
	if res.Err == nil {
		t.setError("")
	}

	if t.detector.IsBaselined() {
		t.indicator.ShowLevel(t.detector.CurrentLevel())
	}
	if t.tracker != nil {
		t.tracker.SetClock(clockState.String())
		t.tracker.UpdateReading(status.Reading{
			Time:    t.now(),
			PM1:     live.PM1,
			PM25:    live.PM25,
			PM10:    live.PM10,
			Battery: live.Battery,
			AQI:     live.AQI,
		}, t.detector.CurrentLevel(), t.detector.IsBaselined(), t.detector.EventCountsSnapshot())
	}
	return res
}

// persist appends rec with a logging-grade timestamp. Samples taken before
// the clock is peer-synced are published live but never persisted.
func (t *Task) persist(rec record.LogRecord) (uint64, bool, error) {
	ts, err := t.clock.LoggingTimestamp()
	if err != nil {
		t.logClockTransition(false, err)
		return 0, false, nil
	}
	t.logClockTransition(true, nil)
	rec.Timestamp = ts

	idx, err := t.store.Append(rec)
	if err != nil {
		code := led.StorageWrite
		if errors.Is(err, storage.ErrBackendUnavailable) {
			code = led.BackendUnavailable
		}
		log.Printf("sampler: sample dropped: %v", err)
		t.indicator.ShowError(code)
		t.setError(string(code))
		if t.tracker != nil {
			t.tracker.CountLogged(false)
		}
		return 0, false, err
	}
	if t.tracker != nil {
		t.tracker.CountLogged(true)
	}
	return idx, true, nil
}

// logClockTransition logs only when logging becomes enabled or disabled.
func (t *Task) logClockTransition(ok bool, err error) {
	if t.clockKnown && ok == t.clockOK {
		return
	}
	t.clockKnown = true
	t.clockOK = ok
	if ok {
		log.Printf("sampler: clock synced, logging enabled")
	} else {
		log.Printf("sampler: logging paused: %v", err)
	}
}

// readBattery returns the battery level, keeping the last good value on error.
func (t *Task) readBattery() uint8 {
	p, err := t.battery.Percent()
	if err != nil {
		if t.batteryOK {
			log.Printf("sampler: battery read failed, reporting last value %d%%: %v", t.lastBattery, err)
			t.batteryOK = false
		}
		return t.lastBattery
	}
	t.batteryOK = true
	t.lastBattery = p
	return p
}

func (t *Task) setError(msg string) {
	if t.tracker != nil {
		t.tracker.SetLastError(msg)
	}
}
