package storage

import (
	"sort"
	"sync"
)

// FakeBackend is an in-memory Backend with scriptable failures.
type FakeBackend struct {
	mu sync.Mutex

	KindValue Kind
	Cap       uint64
	Cost      int64

	// Data holds stored slots.
	Data map[uint64][]byte

	// WriteIndex / HasWriteIndex hold the persisted write index.
	WriteIndex    uint64
	HasWriteIndex bool

	// FreeBytes is returned by FreeCapacityHint; negative means "derive from
	// MaxEntries".
	FreeBytes int64
	// MaxEntries, if > 0, makes WriteAt of a new slot fail with ErrWriteFailure
	// once len(Data) reaches it.
	MaxEntries int

	// FailWrites makes the next N WriteAt calls fail with ErrWriteFailure.
	FailWrites int
	// WriteError, if set, is returned by every WriteAt.
	WriteError error
	// StoreIndexError, if set, is returned by StoreWriteIndex.
	StoreIndexError error

	// Writes and Removes record the slots passed to WriteAt and RemoveAt.
	Writes  []uint64
	Removes []uint64

	Closed bool
}

// NewFakeBackend creates an empty FakeBackend.
func NewFakeBackend(kind Kind, capacity uint64) *FakeBackend {
	return &FakeBackend{
		KindValue: kind,
		Cap:       capacity,
		Cost:      16,
		Data:      map[uint64][]byte{},
		FreeBytes: -1,
	}
}

func (f *FakeBackend) Kind() Kind       { return f.KindValue }
func (f *FakeBackend) Capacity() uint64 { return f.Cap }
func (f *FakeBackend) EntryCost() int64 { return f.Cost }

func (f *FakeBackend) WriteAt(slot uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Writes = append(f.Writes, slot)
	if f.WriteError != nil {
		return f.WriteError
	}
	if f.FailWrites > 0 {
		f.FailWrites--
		return ErrWriteFailure
	}
	if _, ok := f.Data[slot]; !ok && f.MaxEntries > 0 && len(f.Data) >= f.MaxEntries {
		return ErrWriteFailure
	}
	f.Data[slot] = append([]byte(nil), data...)
	return nil
}

func (f *FakeBackend) ReadAt(slot uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.Data[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

func (f *FakeBackend) RemoveAt(slot uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Removes = append(f.Removes, slot)
	if _, ok := f.Data[slot]; !ok {
		return ErrNotFound
	}
	delete(f.Data, slot)
	return nil
}

func (f *FakeBackend) Slots() ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]uint64, 0, len(f.Data))
	for s := range f.Data {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *FakeBackend) FreeCapacityHint() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FreeBytes >= 0 {
		return f.FreeBytes, nil
	}
	if f.MaxEntries > 0 {
		return int64(f.MaxEntries-len(f.Data)) * f.Cost, nil
	}
	return 1 << 30, nil
}

func (f *FakeBackend) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Data = map[uint64][]byte{}
	f.WriteIndex = 0
	f.HasWriteIndex = false
	return nil
}

func (f *FakeBackend) LoadWriteIndex() (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.WriteIndex, f.HasWriteIndex, nil
}

func (f *FakeBackend) StoreWriteIndex(idx uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StoreIndexError != nil {
		return f.StoreIndexError
	}
	f.WriteIndex = idx
	f.HasWriteIndex = true
	return nil
}

func (f *FakeBackend) Close() error {
	f.Closed = true
	return nil
}

// ResetCalls clears the recorded WriteAt/RemoveAt history.
func (f *FakeBackend) ResetCalls() {
	f.mu.Lock()
	f.Writes = nil
	f.Removes = nil
	f.mu.Unlock()
}
