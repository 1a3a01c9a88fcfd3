package led

import (
	"log"
	"sync"
	"time"

	"github.com/sweeney/air-sensor/internal/logic"
)

const (
	blinkOn  = 200 * time.Millisecond
	blinkOff = 200 * time.Millisecond
	codeGap  = 600 * time.Millisecond
)

// setter drives the three channels at once.
type setter interface {
	set(c Color) error
}

type command struct {
	level  Color
	blinks int // > 0 for an error code
}

// renderer owns the LED lines on a goroutine so ShowLevel and ShowError
// never wait on blink timing. Commands arriving while the queue is full are
// dropped; the next cycle sends a fresh one.
type renderer struct {
	out   setter
	cmds  chan command
	done  chan struct{}
	sleep func(time.Duration)

	mu     sync.Mutex
	steady Color
	closed bool
}

func newRenderer(out setter, sleep func(time.Duration)) *renderer {
	if sleep == nil {
		sleep = time.Sleep
	}
	r := &renderer{
		out:   out,
		cmds:  make(chan command, 4),
		done:  make(chan struct{}),
		sleep: sleep,
	}
	go r.loop()
	return r
}

func (r *renderer) ShowLevel(level logic.Level) {
	r.send(command{level: LevelColor(level)})
}

func (r *renderer) ShowError(code Code) {
	r.mu.Lock()
	steady := r.steady
	r.mu.Unlock()
	r.send(command{level: steady, blinks: code.Blinks()})
}

func (r *renderer) send(c command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.cmds <- c:
	default:
		log.Printf("led: render queue full, dropping update")
	}
}

func (r *renderer) loop() {
	defer close(r.done)
	for c := range r.cmds {
		r.mu.Lock()
		r.steady = c.level
		r.mu.Unlock()

		for i := 0; i < c.blinks; i++ {
			r.apply(Red)
			r.sleep(blinkOn)
			r.apply(Off)
			r.sleep(blinkOff)
		}
		if c.blinks > 0 {
			r.sleep(codeGap)
		}
		r.apply(c.level)
	}
	r.apply(Off)
}

func (r *renderer) apply(c Color) {
	if err := r.out.set(c); err != nil {
		log.Printf("led: set %03b: %v", c, err)
	}
}

// stop drains pending commands, turns the LED off and waits for the loop.
func (r *renderer) stop() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.cmds)
	}
	r.mu.Unlock()
	<-r.done
}
