package led

import (
	"log"
	"sync"

	"github.com/sweeney/air-sensor/internal/logic"
)

// Nop discards every update. Used when no LED is fitted.
type Nop struct{}

func (Nop) ShowLevel(logic.Level) {}
func (Nop) ShowError(Code)        {}
func (Nop) Close() error          { return nil }

// LogIndicator writes indicator changes to the log instead of a LED.
type LogIndicator struct {
	mu   sync.Mutex
	last string
}

func (l *LogIndicator) ShowLevel(level logic.Level) {
	l.report("level " + string(level))
}

func (l *LogIndicator) ShowError(code Code) {
	l.report("error " + string(code))
}

// report logs only changes so a steady state does not flood the log.
func (l *LogIndicator) report(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if msg == l.last {
		return
	}
	l.last = msg
	log.Printf("led: %s", msg)
}

func (l *LogIndicator) Close() error { return nil }

// FakeIndicator records every update synchronously.
type FakeIndicator struct {
	mu     sync.Mutex
	Levels []logic.Level
	Errors []Code
	Closed bool
}

func (f *FakeIndicator) ShowLevel(level logic.Level) {
	f.mu.Lock()
	f.Levels = append(f.Levels, level)
	f.mu.Unlock()
}

func (f *FakeIndicator) ShowError(code Code) {
	f.mu.Lock()
	f.Errors = append(f.Errors, code)
	f.mu.Unlock()
}

func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// ErrorCodes returns a copy of the recorded error codes.
func (f *FakeIndicator) ErrorCodes() []Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Code(nil), f.Errors...)
}

// LastLevel returns the most recent level, or LevelUnknown.
func (f *FakeIndicator) LastLevel() logic.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Levels) == 0 {
		return logic.LevelUnknown
	}
	return f.Levels[len(f.Levels)-1]
}
