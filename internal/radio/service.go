package radio

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/air-sensor/internal/clock"
	"github.com/sweeney/air-sensor/internal/led"
	"github.com/sweeney/air-sensor/internal/slot"
	"github.com/sweeney/air-sensor/internal/status"
	"github.com/sweeney/air-sensor/internal/transfer"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Advertising
	Connected
	Disabled // link failed to start; no radio until reboot
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Advertising:
		return "ADVERTISING"
	case Connected:
		return "CONNECTED"
	case Disabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Clock is the peer-sync side of the clock gate.
type Clock interface {
	Set(epoch uint32, src clock.Source) error
	Now() (uint32, clock.State)
}

// Config holds the service timing.
type Config struct {
	LinkName          string        // for status reporting
	Tick              time.Duration // loop cadence
	GraceDelay        time.Duration // wait after a drop before advertising again
	AdvertiseWatchdog time.Duration // restart advertising if nobody connects
	LockTimeout       time.Duration // bounded wait on the shared slot
}

func (c *Config) setDefaults() {
	if c.Tick <= 0 {
		c.Tick = 200 * time.Millisecond
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 500 * time.Millisecond
	}
	if c.AdvertiseWatchdog <= 0 {
		c.AdvertiseWatchdog = 60 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 100 * time.Millisecond
	}
}

// Deps are the service's collaborators.
type Deps struct {
	Link      Link
	Slot      *slot.Slot
	Transfer  *transfer.Controller
	Clock     Clock
	Indicator led.Indicator
	Tracker   *status.Tracker // optional
	Now       func() time.Time
}

// Service is the radio task. All of its state, including the transfer
// session, is owned by the goroutine running Run.
type Service struct {
	link      Link
	slot      *slot.Slot
	xfer      *transfer.Controller
	clock     Clock
	indicator led.Indicator
	tracker   *status.Tracker
	cfg       Config
	now       func() time.Time

	state       State
	advSince    time.Time
	reconnectAt time.Time // zero unless a re-advertise is pending

	liveSent    int
	chunksSent  int
	lastBattery uint8
	batterySent bool
}

// NewService creates a Service.
func NewService(d Deps, cfg Config) *Service {
	cfg.setDefaults()
	if d.Indicator == nil {
		d.Indicator = led.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		link:      d.Link,
		slot:      d.Slot,
		xfer:      d.Transfer,
		clock:     d.Clock,
		indicator: d.Indicator,
		tracker:   d.Tracker,
		cfg:       cfg,
		now:       d.Now,
	}
}

// State returns the connection state. Only meaningful from the Run goroutine
// or after Run has returned.
func (s *Service) State() State { return s.state }

// Run brings the link up and serves it until ctx is cancelled. A link that
// fails to start is reported and the task idles; Run never fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.link.Start(); err != nil {
		log.Printf("radio: %v; continuing without radio", err)
		s.indicator.ShowError(led.RadioInit)
		s.state = Disabled
		s.report()
		<-ctx.Done()
		return nil
	}
	defer s.link.Close()

	s.publishInfo()
	s.publishClock()
	s.advertise()
	s.report()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("radio: stopped")
			return nil
		case ev := <-s.link.Events():
			s.handle(ev)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) advertise() {
	if err := s.link.StartAdvertising(); err != nil {
		log.Printf("radio: start advertising: %v", err)
		s.state = Disconnected
		s.reconnectAt = s.now().Add(s.cfg.GraceDelay)
		return
	}
	s.state = Advertising
	s.advSince = s.now()
	s.reconnectAt = time.Time{}
}

// tick runs the periodic supervision: re-advertise after the grace delay,
// the advertising watchdog, and the live push while connected.
func (s *Service) tick(ctx context.Context) {
	now := s.now()
	switch s.state {
	case Disconnected:
		if !s.reconnectAt.IsZero() && !now.Before(s.reconnectAt) {
			s.advertise()
		}
	case Advertising:
		if now.Sub(s.advSince) >= s.cfg.AdvertiseWatchdog {
			log.Printf("radio: no connection after %s, restarting advertising", s.cfg.AdvertiseWatchdog)
			if err := s.link.StopAdvertising(); err != nil {
				log.Printf("radio: stop advertising: %v", err)
			}
			s.advertise()
		}
	case Connected:
		s.pushLive(ctx)
	}
	s.report()
}

// pushLive notifies the latest reading if it has not been sent yet. A busy
// slot skips this tick.
func (s *Service) pushLive(ctx context.Context) {
	snap, err := s.slot.Peek(ctx, s.cfg.LockTimeout)
	if err != nil || !snap.Valid || !snap.Dirty {
		return
	}
	if err := s.link.Notify(CharLive, snap.Reading.LiveText()); err != nil {
		log.Printf("radio: live notify: %v", err)
		return
	}
	s.liveSent++

	if b := snap.Reading.Battery; !s.batterySent || b != s.lastBattery {
		if err := s.link.Notify(CharBattery, []byte{b}); err != nil {
			log.Printf("radio: battery notify: %v", err)
		} else {
			s.lastBattery, s.batterySent = b, true
		}
	}

	// A busy slot leaves the reading dirty and it goes out again next tick.
	s.slot.MarkSent(ctx, snap.Seq, s.cfg.LockTimeout)
}

func (s *Service) handle(ev Event) {
	switch ev.Kind {
	case EventConnected:
		log.Printf("radio: peer connected")
		if s.state == Advertising {
			if err := s.link.StopAdvertising(); err != nil {
				log.Printf("radio: stop advertising: %v", err)
			}
		}
		s.state = Connected
		s.reconnectAt = time.Time{}
		s.batterySent = false
		s.publishInfo()
		s.publishClock()
	case EventDisconnected:
		log.Printf("radio: peer disconnected, advertising again in %s", s.cfg.GraceDelay)
		s.state = Disconnected
		s.reconnectAt = s.now().Add(s.cfg.GraceDelay)
	case EventWrite:
		s.handleWrite(ev.Char, ev.Value)
	}
	s.report()
}

func (s *Service) handleWrite(c Char, value []byte) {
	switch c {
	case CharChunkRequest:
		s.handleChunkRequest(strings.TrimSpace(string(value)))
	case CharHistory:
		if err := s.link.Notify(CharHistory, s.xfer.Current()); err != nil {
			log.Printf("radio: history re-send: %v", err)
		}
	case CharClock:
		s.handleClockWrite(strings.TrimSpace(string(value)))
	default:
		log.Printf("radio: write to %s ignored", c)
	}
}

func (s *Service) handleChunkRequest(text string) {
	k, err := strconv.Atoi(text)
	if err != nil {
		log.Printf("radio: chunk request %q rejected: not an integer", text)
		return
	}
	if k == -1 {
		p := s.xfer.Prepare()
		log.Printf("radio: transfer prepared: %d records in %d chunks", p.Entries, p.TotalChunks)
		s.publishInfo()
		return
	}

	payload, err := s.xfer.Chunk(k)
	if err != nil {
		log.Printf("radio: chunk request rejected: %v", err)
		return
	}
	if err := s.link.Notify(CharHistory, payload); err != nil {
		log.Printf("radio: chunk %d notify: %v", k, err)
	} else {
		s.chunksSent++
	}
	if len(payload) == 0 {
		p := s.xfer.Progress()
		log.Printf("radio: transfer complete at chunk %d (%d records, %d missing)", k, p.Entries, p.Holes)
	}
	s.publishInfo()
}

func (s *Service) handleClockWrite(text string) {
	v, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		log.Printf("radio: clock write %q rejected: not an epoch", text)
		return
	}
	if err := s.clock.Set(uint32(v), clock.SourcePeerSync); err != nil {
		log.Printf("radio: clock write rejected: %v", err)
		return
	}
	log.Printf("radio: clock synced by peer to %d", v)
	s.publishClock()
}

func (s *Service) publishInfo() {
	if err := s.link.SetValue(CharChunkInfo, s.xfer.Info()); err != nil {
		log.Printf("radio: chunk info: %v", err)
	}
}

func (s *Service) publishClock() {
	ts, _ := s.clock.Now()
	if err := s.link.SetValue(CharClock, strconv.AppendUint(nil, uint64(ts), 10)); err != nil {
		log.Printf("radio: clock value: %v", err)
	}
}

func (s *Service) report() {
	if s.tracker == nil {
		return
	}
	s.tracker.SetRadio(status.RadioInfo{
		Link:       s.cfg.LinkName,
		State:      s.state.String(),
		Connected:  s.state == Connected,
		LiveSent:   s.liveSent,
		ChunksSent: s.chunksSent,
	})
}
