package radio

import "sync"

// Sent is one SetValue or Notify call recorded by FakeLink.
type Sent struct {
	Char   Char
	Value  []byte
	Notify bool
}

// FakeLink records outgoing traffic and lets tests inject peer events.
type FakeLink struct {
	mu sync.Mutex

	// StartError, if set, is returned by Start.
	StartError error
	// NotifyError, if set, is returned by Notify.
	NotifyError error

	Started     bool
	Advertising bool
	AdvStarts   int
	AdvStops    int
	Closed      bool
	Sent        []Sent
	Values      map[Char][]byte
	events      chan Event
}

// NewFakeLink creates a FakeLink with an event queue.
func NewFakeLink() *FakeLink {
	return &FakeLink{
		Values: map[Char][]byte{},
		events: make(chan Event, eventBuffer),
	}
}

func (f *FakeLink) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartError != nil {
		return f.StartError
	}
	f.Started = true
	return nil
}

func (f *FakeLink) StartAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Advertising = true
	f.AdvStarts++
	return nil
}

func (f *FakeLink) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Advertising = false
	f.AdvStops++
	return nil
}

func (f *FakeLink) SetValue(c Char, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := append([]byte(nil), value...)
	f.Values[c] = v
	f.Sent = append(f.Sent, Sent{Char: c, Value: v})
	return nil
}

func (f *FakeLink) Notify(c Char, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotifyError != nil {
		return f.NotifyError
	}
	v := append([]byte(nil), value...)
	f.Values[c] = v
	f.Sent = append(f.Sent, Sent{Char: c, Value: v, Notify: true})
	return nil
}

func (f *FakeLink) Events() <-chan Event { return f.events }

func (f *FakeLink) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Connect injects a peer connection.
func (f *FakeLink) Connect() { f.events <- Event{Kind: EventConnected} }

// Disconnect injects a link drop.
func (f *FakeLink) Disconnect() { f.events <- Event{Kind: EventDisconnected} }

// Write injects a peer write.
func (f *FakeLink) Write(c Char, value string) {
	f.events <- Event{Kind: EventWrite, Char: c, Value: []byte(value)}
}

// Notified returns the payloads notified on c, in order.
func (f *FakeLink) Notified(c Char) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, s := range f.Sent {
		if s.Notify && s.Char == c {
			out = append(out, s.Value)
		}
	}
	return out
}

// Value returns the last value set or notified on c.
func (f *FakeLink) Value(c Char) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Values[c]
}

// Counts returns advertising start/stop counts.
func (f *FakeLink) Counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AdvStarts, f.AdvStops
}

// IsAdvertising reports the advertising flag.
func (f *FakeLink) IsAdvertising() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Advertising
}
