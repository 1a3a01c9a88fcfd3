//go:build linux

package radio

import (
	"fmt"
	"log"

	"tinygo.org/x/bluetooth"
)

// BLELink is a GATT peripheral on the host's Bluetooth adapter (BlueZ).
type BLELink struct {
	adapter *bluetooth.Adapter
	name    string
	adv     *bluetooth.Advertisement
	chars   [numChars]bluetooth.Characteristic
	events  chan Event
}

// NewBLELink creates a link advertising as name on the default adapter.
func NewBLELink(name string) *BLELink {
	return &BLELink{
		adapter: bluetooth.DefaultAdapter,
		name:    name,
		events:  make(chan Event, eventBuffer),
	}
}

func (l *BLELink) Start() error {
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %w", ErrInitFailure, err)
	}
	l.adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		if connected {
			l.emit(Event{Kind: EventConnected})
		} else {
			l.emit(Event{Kind: EventDisconnected})
		}
	})

	const (
		read   = bluetooth.CharacteristicReadPermission
		notify = bluetooth.CharacteristicNotifyPermission
		write  = bluetooth.CharacteristicWritePermission
	)
	svc := bluetooth.Service{
		UUID: bluetooth.NewUUID(ServiceUUID),
		Characteristics: []bluetooth.CharacteristicConfig{
			l.char(CharLive, read|notify),
			l.char(CharHistory, read|notify|write),
			l.char(CharBattery, read|notify),
			l.char(CharChunkInfo, read),
			l.char(CharChunkRequest, write),
			l.char(CharClock, read|write),
		},
	}
	if err := l.adapter.AddService(&svc); err != nil {
		return fmt.Errorf("%w: add service: %w", ErrInitFailure, err)
	}

	l.adv = l.adapter.DefaultAdvertisement()
	if err := l.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    l.name,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.NewUUID(ServiceUUID)},
	}); err != nil {
		return fmt.Errorf("%w: configure advertisement: %w", ErrInitFailure, err)
	}
	return nil
}

func (l *BLELink) char(c Char, flags bluetooth.CharacteristicPermissions) bluetooth.CharacteristicConfig {
	cfg := bluetooth.CharacteristicConfig{
		Handle: &l.chars[c],
		UUID:   bluetooth.NewUUID(c.UUID()),
		Flags:  flags,
	}
	if flags&bluetooth.CharacteristicWritePermission != 0 {
		cfg.WriteEvent = func(_ bluetooth.Connection, offset int, value []byte) {
			if offset != 0 {
				return
			}
			l.emit(Event{Kind: EventWrite, Char: c, Value: append([]byte(nil), value...)})
		}
	}
	return cfg
}

func (l *BLELink) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Printf("radio: event queue full, dropping %s", ev.Kind)
	}
}

func (l *BLELink) StartAdvertising() error {
	if l.adv == nil {
		return ErrInitFailure
	}
	return l.adv.Start()
}

func (l *BLELink) StopAdvertising() error {
	if l.adv == nil {
		return nil
	}
	return l.adv.Stop()
}

// SetValue writes the attribute value. BlueZ notifies subscribers of any
// value change, so SetValue and Notify coincide here.
func (l *BLELink) SetValue(c Char, value []byte) error {
	if c < 0 || c >= numChars {
		return fmt.Errorf("radio: unknown characteristic %d", c)
	}
	_, err := l.chars[c].Write(value)
	return err
}

func (l *BLELink) Notify(c Char, value []byte) error {
	return l.SetValue(c, value)
}

func (l *BLELink) Events() <-chan Event { return l.events }

func (l *BLELink) Close() error {
	return l.StopAdvertising()
}
