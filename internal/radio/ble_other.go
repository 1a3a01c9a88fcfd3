//go:build !linux

package radio

import "fmt"

// BLELink is unavailable off Linux; Start always fails so the node runs
// without radio services.
type BLELink struct {
	events chan Event
}

func NewBLELink(name string) *BLELink {
	return &BLELink{events: make(chan Event)}
}

func (l *BLELink) Start() error {
	return fmt.Errorf("%w: BLE peripheral requires linux", ErrInitFailure)
}

func (l *BLELink) StartAdvertising() error { return ErrInitFailure }
func (l *BLELink) StopAdvertising() error { return nil }
func (l *BLELink) SetValue(c Char, v []byte) error { return ErrInitFailure }
func (l *BLELink) Notify(c Char, v []byte) error { return ErrInitFailure }
func (l *BLELink) Events() <-chan Event { return l.events }
func (l *BLELink) Close() error { return nil }
