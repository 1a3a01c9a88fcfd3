package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/air-sensor/internal/battery"
	"github.com/sweeney/air-sensor/internal/clock"
	"github.com/sweeney/air-sensor/internal/led"
	"github.com/sweeney/air-sensor/internal/logic"
	"github.com/sweeney/air-sensor/internal/sensor"
	"github.com/sweeney/air-sensor/internal/slot"
	"github.com/sweeney/air-sensor/internal/status"
	"github.com/sweeney/air-sensor/internal/storage"
)

const syncedEpoch = 1720000000

type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type harness struct {
	task      *Task
	sensor    *sensor.FakeSensor
	battery   *battery.FakeBattery
	slot      *slot.Slot
	gate      *clock.Gate
	store     *storage.LogStore
	backend   *storage.FakeBackend
	indicator *led.FakeIndicator
	tracker   *status.Tracker
	clk       *fakeTime
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sensor:    sensor.NewFakeSensor(sensor.Reading{PM1: 3, PM25: 8, PM10: 11, PM25Std: 9}),
		battery:   &battery.FakeBattery{Level: 76},
		slot:      slot.New(),
		backend:   storage.NewFakeBackend(storage.FileBacked, 100),
		indicator: &led.FakeIndicator{},
		clk:       &fakeTime{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.gate = clock.NewGate(h.clk.Now)
	store, err := storage.Open(h.backend, nil, h.gate, storage.Options{})
	require.NoError(t, err)
	h.store = store
	h.tracker = status.NewTracker(h.clk.Now(), status.Config{})
	h.task = New(Deps{
		Sensor:    h.sensor,
		Battery:   h.battery,
		Slot:      h.slot,
		Store:     h.store,
		Clock:     h.gate,
		Indicator: h.indicator,
		Tracker:   h.tracker,
		Now:       h.clk.Now,
	}, Config{LightInterval: time.Minute, DeepInterval: 10 * time.Minute, LockTimeout: 50 * time.Millisecond})
	return h
}

func (h *harness) peek(t *testing.T) slot.Snapshot {
	t.Helper()
	snap, err := h.slot.Peek(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	return snap
}

func TestStep_UnsetClockPublishesButDoesNotLog(t *testing.T) {
	h := newHarness(t)

	res := h.task.Step(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Published)
	assert.False(t, res.Logged)
	assert.Equal(t, uint64(0), h.store.WriteIndex())
	assert.Empty(t, h.backend.Writes)

	snap := h.peek(t)
	assert.True(t, snap.Dirty)
	assert.Equal(t, uint16(8), snap.Reading.PM25)
	assert.Equal(t, uint16(9), snap.Reading.PM25Std)
	assert.Equal(t, uint8(76), snap.Reading.Battery)
	assert.Equal(t, logic.LevelGood, snap.Reading.Level)
	assert.Less(t, snap.Reading.Timestamp, clock.SanityFloor, "pseudo-time while unset")
}

func TestStep_LocalClockWriteNeverEnablesLogging(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gate.Set(syncedEpoch, clock.SourceLocal))

	for i := 0; i < 3; i++ {
		res := h.task.Step(context.Background())
		assert.NoError(t, res.Err)
		assert.False(t, res.Logged)
		h.clk.Advance(time.Minute)
	}
	assert.Equal(t, uint64(0), h.store.WriteIndex())
	assert.Equal(t, "SET_INACCURATE", h.tracker.Snapshot().ClockState)
}

func TestStep_LogsAfterPeerSync(t *testing.T) {
	h := newHarness(t)
	h.task.Step(context.Background())

	require.NoError(t, h.gate.Set(syncedEpoch, clock.SourcePeerSync))
	h.clk.Advance(30 * time.Second)

	res := h.task.Step(context.Background())
	require.NoError(t, res.Err)
	require.True(t, res.Logged)
	assert.Equal(t, uint64(0), res.Index)

	entries := h.store.ReadRange(0, 1)
	require.NoError(t, entries[0].Err)
	rec := entries[0].Record
	assert.Equal(t, uint32(syncedEpoch+30), rec.Timestamp)
	assert.Equal(t, uint16(3), rec.PM1)
	assert.Equal(t, uint16(8), rec.PM25)
	assert.Equal(t, uint16(11), rec.PM10)
	assert.Equal(t, uint8(76), rec.Battery)
	assert.Equal(t, 1, h.tracker.Snapshot().Storage.Logged)
}

func TestStep_SensorErrorSkipsCycle(t *testing.T) {
	for _, tt := range []struct {
		err  error
		code led.Code
	}{
		{sensor.ErrTimeout, led.SensorTimeout},
		{sensor.ErrUnavailable, led.SensorUnavailable},
	} {
		t.Run(string(tt.code), func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.gate.Set(syncedEpoch, clock.SourcePeerSync))
			h.sensor.SetError(tt.err)

			res := h.task.Step(context.Background())
			assert.ErrorIs(t, res.Err, tt.err)
			assert.False(t, res.Published)
			assert.False(t, res.Logged)
			assert.Equal(t, []led.Code{tt.code}, h.indicator.ErrorCodes())
			assert.False(t, h.peek(t).Valid)
			assert.Equal(t, string(tt.code), h.tracker.Snapshot().LastError)

			h.sensor.SetError(nil)
			res = h.task.Step(context.Background())
			assert.NoError(t, res.Err)
			assert.True(t, res.Logged)
			assert.Empty(t, h.tracker.Snapshot().LastError)
		})
	}
}

func TestStep_WriteFailureDropsSample(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gate.Set(syncedEpoch, clock.SourcePeerSync))
	h.backend.FailWrites = 3

	res := h.task.Step(context.Background())
	assert.ErrorIs(t, res.Err, storage.ErrWriteFailure)
	assert.False(t, res.Logged)
	assert.True(t, res.Published, "live data still flows")
	assert.Equal(t, []led.Code{led.StorageWrite}, h.indicator.ErrorCodes())
	assert.Equal(t, uint64(0), h.store.WriteIndex())
	assert.Equal(t, 1, h.tracker.Snapshot().Storage.Dropped)

	res = h.task.Step(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Logged)
	assert.Equal(t, uint64(0), res.Index)
}

func TestStep_BatteryErrorKeepsLastValue(t *testing.T) {
	h := newHarness(t)
	h.task.Step(context.Background())

	h.battery.ReadError = errors.New("adc fault")
	res := h.task.Step(context.Background())
	assert.NoError(t, res.Err)
	assert.Equal(t, uint8(76), res.Reading.Battery)
}

func TestStep_ShowsLevelOnceBaselined(t *testing.T) {
	h := newHarness(t)
	h.sensor.Readings = []sensor.Reading{{PM25: 40}}

	h.task.Step(context.Background())
	assert.Equal(t, logic.LevelUnhealthyForSensitive, h.indicator.LastLevel())

	snap := h.tracker.Snapshot()
	assert.True(t, snap.Baselined)
	assert.Equal(t, logic.LevelUnhealthyForSensitive, snap.Level)
	require.NotNil(t, snap.Latest)
	assert.Equal(t, uint16(40), snap.Latest.PM25)
}

type countingSleeper struct {
	durations []time.Duration
	stopAfter int
	cancel    context.CancelFunc
}

func (c *countingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	c.durations = append(c.durations, d)
	if len(c.durations) >= c.stopAfter {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

func TestRun_SleepsPerPowerMode(t *testing.T) {
	for _, tt := range []struct {
		mode PowerMode
		want time.Duration
	}{
		{LightSleep, time.Minute},
		{DeepSleep, 10 * time.Minute},
	} {
		t.Run(tt.mode.String(), func(t *testing.T) {
			h := newHarness(t)
			ctx, cancel := context.WithCancel(context.Background())
			sl := &countingSleeper{stopAfter: 3, cancel: cancel}
			h.task.sleeper = sl
			h.task.cfg.Mode = tt.mode

			require.NoError(t, h.task.Run(ctx))
			assert.Equal(t, []time.Duration{tt.want, tt.want, tt.want}, sl.durations)
			assert.Equal(t, 3, h.sensor.Reads)
		})
	}
}

func TestTimerSleeperCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := TimerSleeper{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, TimerSleeper{}.Sleep(context.Background(), time.Millisecond))
}

func TestParsePowerMode(t *testing.T) {
	m, err := ParsePowerMode("deep")
	require.NoError(t, err)
	assert.Equal(t, DeepSleep, m)
	m, err = ParsePowerMode("")
	require.NoError(t, err)
	assert.Equal(t, LightSleep, m)
	_, err = ParsePowerMode("hibernate")
	assert.Error(t, err)
}
