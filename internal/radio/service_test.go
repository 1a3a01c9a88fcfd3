package radio

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/air-sensor/internal/clock"
	"github.com/sweeney/air-sensor/internal/led"
	"github.com/sweeney/air-sensor/internal/record"
	"github.com/sweeney/air-sensor/internal/slot"
	"github.com/sweeney/air-sensor/internal/status"
	"github.com/sweeney/air-sensor/internal/storage"
	"github.com/sweeney/air-sensor/internal/transfer"
)

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

// storeGate lets the test fill the log without touching the gate under test.
type storeGate struct{}

func (storeGate) State() clock.State { return clock.SetAccurate }

type svcHarness struct {
	svc       *Service
	link      *FakeLink
	slot      *slot.Slot
	gate      *clock.Gate
	store     *storage.LogStore
	indicator *led.FakeIndicator
	tracker   *status.Tracker
	clk       *fakeTime
}

func newSvcHarness(t *testing.T) *svcHarness {
	t.Helper()
	h := &svcHarness{
		link:      NewFakeLink(),
		slot:      slot.New(),
		indicator: &led.FakeIndicator{},
		clk:       &fakeTime{t: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)},
	}
	h.gate = clock.NewGate(h.clk.Now)
	store, err := storage.Open(storage.NewFakeBackend(storage.FileBacked, 500), nil, storeGate{}, storage.Options{})
	require.NoError(t, err)
	h.store = store
	h.tracker = status.NewTracker(h.clk.Now(), status.Config{})
	h.svc = NewService(Deps{
		Link:      h.link,
		Slot:      h.slot,
		Transfer:  transfer.New(store, transfer.Config{}),
		Clock:     h.gate,
		Indicator: h.indicator,
		Tracker:   h.tracker,
		Now:       h.clk.Now,
	}, Config{
		LinkName:          "fake",
		GraceDelay:        2 * time.Second,
		AdvertiseWatchdog: time.Minute,
		LockTimeout:       50 * time.Millisecond,
	})
	return h
}

func (h *svcHarness) fill(t *testing.T, n int) []byte {
	t.Helper()
	var want []byte
	for i := 0; i < n; i++ {
		r := record.LogRecord{Timestamp: 1720000000 + uint32(i*60), PM1: 4, PM25: uint16(i % 50), PM10: 20, Battery: 88}
		_, err := h.store.Append(r)
		require.NoError(t, err)
		want = record.AppendText(want, r)
	}
	return want
}

func (h *svcHarness) publish(t *testing.T, pm25 uint16, battery uint8) {
	t.Helper()
	r := record.LiveReading{LogRecord: record.LogRecord{PM1: 2, PM25: pm25, PM10: 9, Battery: battery}}
	require.NoError(t, h.slot.Publish(context.Background(), r, 50*time.Millisecond))
}

func (h *svcHarness) connect() {
	h.svc.advertise()
	h.svc.handle(Event{Kind: EventConnected})
}

func TestService_ConnectStopsAdvertisingAndPublishesValues(t *testing.T) {
	h := newSvcHarness(t)
	h.svc.advertise()
	assert.Equal(t, Advertising, h.svc.State())
	assert.True(t, h.link.IsAdvertising())

	h.svc.handle(Event{Kind: EventConnected})
	assert.Equal(t, Connected, h.svc.State())
	assert.False(t, h.link.IsAdvertising())
	assert.Equal(t, "0,0", string(h.link.Value(CharChunkInfo)))
	assert.NotEmpty(t, h.link.Value(CharClock))

	r := h.tracker.Snapshot().Radio
	assert.Equal(t, "CONNECTED", r.State)
	assert.True(t, r.Connected)
	assert.Equal(t, "fake", r.Link)
}

func TestService_LivePushOnlyWhenDirtyAndConnected(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()
	h.publish(t, 12, 80)

	h.svc.advertise()
	h.svc.tick(ctx)
	assert.Empty(t, h.link.Notified(CharLive), "no push while advertising")

	h.svc.handle(Event{Kind: EventConnected})
	h.svc.tick(ctx)
	require.Len(t, h.link.Notified(CharLive), 1)
	assert.Equal(t, "2,12,9,80", string(h.link.Notified(CharLive)[0]))
	assert.Equal(t, [][]byte{{80}}, h.link.Notified(CharBattery))

	snap, err := h.slot.Peek(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, snap.Dirty, "cleared after push")

	h.svc.tick(ctx)
	assert.Len(t, h.link.Notified(CharLive), 1, "clean slot is not re-sent")

	h.publish(t, 30, 80)
	h.svc.tick(ctx)
	assert.Len(t, h.link.Notified(CharLive), 2)
	assert.Len(t, h.link.Notified(CharBattery), 1, "unchanged battery is not re-notified")
	assert.Equal(t, 2, h.tracker.Snapshot().Radio.LiveSent)
}

func TestService_FailedPushStaysDirty(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()
	h.publish(t, 12, 80)
	h.connect()

	h.link.NotifyError = errors.New("no subscriber")
	h.svc.tick(ctx)
	snap, err := h.slot.Peek(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, snap.Dirty)

	h.link.NotifyError = nil
	h.svc.tick(ctx)
	assert.Len(t, h.link.Notified(CharLive), 1)
}

func TestService_ReadvertiseAfterGraceDelay(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()
	h.connect()

	h.svc.handle(Event{Kind: EventDisconnected})
	assert.Equal(t, Disconnected, h.svc.State())
	starts, _ := h.link.Counts()

	h.clk.Advance(time.Second)
	h.svc.tick(ctx)
	assert.Equal(t, Disconnected, h.svc.State())

	h.clk.Advance(time.Second)
	h.svc.tick(ctx)
	assert.Equal(t, Advertising, h.svc.State())
	after, _ := h.link.Counts()
	assert.Equal(t, starts+1, after)
}

func TestService_AdvertisingWatchdog(t *testing.T) {
	h := newSvcHarness(t)
	ctx := context.Background()
	h.svc.advertise()

	h.clk.Advance(59 * time.Second)
	h.svc.tick(ctx)
	starts, stops := h.link.Counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)

	h.clk.Advance(2 * time.Second)
	h.svc.tick(ctx)
	starts, stops = h.link.Counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, Advertising, h.svc.State())

	// The watchdog period restarts from the new advertising window.
	h.clk.Advance(30 * time.Second)
	h.svc.tick(ctx)
	starts, _ = h.link.Counts()
	assert.Equal(t, 2, starts)
}

func TestService_ChunkedDownload(t *testing.T) {
	h := newSvcHarness(t)
	want := h.fill(t, 100)
	h.connect()

	h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte("-1")})
	info := string(h.link.Value(CharChunkInfo))
	require.Equal(t, "7,0", info)

	var got []byte
	for k := 0; k < h.svc.xfer.Progress().TotalChunks; k++ {
		h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte(" " + strconv.Itoa(k) + "\n")})
		chunks := h.link.Notified(CharHistory)
		require.Len(t, chunks, k+1)
		got = append(got, chunks[k]...)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, "7,6", string(h.link.Value(CharChunkInfo)))
	assert.Equal(t, 7, h.tracker.Snapshot().Radio.ChunksSent)
}

func TestService_ChunkRequestRejections(t *testing.T) {
	h := newSvcHarness(t)
	h.fill(t, 20)
	h.connect()

	for _, v := range []string{"0", "abc", ""} {
		h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte(v)})
	}
	assert.Empty(t, h.link.Notified(CharHistory), "nothing before prepare")

	h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte("-1")})
	for _, v := range []string{"-2", "2", "99"} {
		h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte(v)})
	}
	assert.Empty(t, h.link.Notified(CharHistory))
	assert.Equal(t, "2,0", string(h.link.Value(CharChunkInfo)))
}

func TestService_HistoryWriteResendsCurrentChunk(t *testing.T) {
	h := newSvcHarness(t)
	h.fill(t, 40)
	h.connect()
	h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte("-1")})
	h.svc.handle(Event{Kind: EventWrite, Char: CharChunkRequest, Value: []byte("1")})

	h.svc.handle(Event{Kind: EventWrite, Char: CharHistory, Value: []byte("x")})
	chunks := h.link.Notified(CharHistory)
	require.Len(t, chunks, 2)
	assert.Equal(t, chunks[0], chunks[1])
	assert.NotEmpty(t, chunks[1])
}

func TestService_ClockWrite(t *testing.T) {
	h := newSvcHarness(t)
	h.connect()

	h.svc.handle(Event{Kind: EventWrite, Char: CharClock, Value: []byte("1600000000")})
	h.svc.handle(Event{Kind: EventWrite, Char: CharClock, Value: []byte("soon")})
	assert.Equal(t, clock.Unset, h.gate.State(), "below floor and garbage rejected")

	h.svc.handle(Event{Kind: EventWrite, Char: CharClock, Value: []byte("1720000000")})
	assert.Equal(t, clock.SetAccurate, h.gate.State())
	assert.Equal(t, "1720000000", string(h.link.Value(CharClock)))

	ts, err := h.gate.LoggingTimestamp()
	require.NoError(t, err)
	assert.Equal(t, uint32(1720000000), ts)
}

func TestService_WritesToReadOnlyCharsIgnored(t *testing.T) {
	h := newSvcHarness(t)
	h.connect()
	before := len(h.link.Sent)
	h.svc.handle(Event{Kind: EventWrite, Char: CharLive, Value: []byte("1,2,3,4")})
	h.svc.handle(Event{Kind: EventWrite, Char: CharChunkInfo, Value: []byte("9,9")})
	assert.Len(t, h.link.Sent, before)
}

func TestService_InitFailureIdles(t *testing.T) {
	h := newSvcHarness(t)
	h.link.StartError = ErrInitFailure

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.tracker.Snapshot().Radio.State == "DISABLED"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []led.Code{led.RadioInit}, h.indicator.ErrorCodes())
	starts, _ := h.link.Counts()
	assert.Zero(t, starts)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_RunEndToEnd(t *testing.T) {
	link := NewFakeLink()
	s := slot.New()
	gate := clock.NewGate(nil)
	store, err := storage.Open(storage.NewFakeBackend(storage.FileBacked, 50), nil, storeGate{}, storage.Options{})
	require.NoError(t, err)
	svc := NewService(Deps{
		Link:     link,
		Slot:     s,
		Transfer: transfer.New(store, transfer.Config{}),
		Clock:    gate,
	}, Config{Tick: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, link.IsAdvertising, time.Second, 5*time.Millisecond)
	link.Connect()
	require.NoError(t, s.Publish(ctx, record.LiveReading{LogRecord: record.LogRecord{PM1: 1, PM25: 2, PM10: 3, Battery: 4}}, 50*time.Millisecond))

	require.Eventually(t, func() bool { return len(link.Notified(CharLive)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "1,2,3,4", string(link.Notified(CharLive)[0]))

	link.Write(CharClock, "1720000000")
	require.Eventually(t, func() bool { return gate.State() == clock.SetAccurate }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	link.mu.Lock()
	assert.True(t, link.Closed)
	link.mu.Unlock()
}
