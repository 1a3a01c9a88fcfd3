package storage

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/air-sensor/internal/clock"
	"github.com/sweeney/air-sensor/internal/record"
)

// Defaults for Options.
const (
	DefaultReclaimBatch    = 8
	DefaultWarnEntries     = 200
	DefaultCriticalEntries = 20
)

// Gate reports whether the device clock may timestamp persisted records.
type Gate interface {
	State() clock.State
}

// Options tunes reclamation and health thresholds.
type Options struct {
	// ReclaimBatch is the number of oldest slots freed by the second
	// reclamation step.
	ReclaimBatch int
	// WarnEntries and CriticalEntries are the estimated-free-entry thresholds
	// for HealthWarning and HealthCritical.
	WarnEntries     uint64
	CriticalEntries uint64
}

func (o *Options) setDefaults() {
	if o.ReclaimBatch <= 0 {
		o.ReclaimBatch = DefaultReclaimBatch
	}
	if o.WarnEntries == 0 {
		o.WarnEntries = DefaultWarnEntries
	}
	if o.CriticalEntries == 0 {
		o.CriticalEntries = DefaultCriticalEntries
	}
}

// Entry is one result of ReadRange. Err is non-nil (wrapping ErrNotFound) for
// holes in the history.
type Entry struct {
	Index  uint64
	Record record.LogRecord
	Err    error
}

// LogStore is a circular log over the active Backend. Logical indices grow
// monotonically; the retained window is [max(0, writeIndex-capacity), writeIndex).
//
// LogStore is safe for concurrent use: the sampler appends while the radio
// task reads ranges. Appends hold the write lock for the whole record, so a
// reader never sees a half-written entry.
type LogStore struct {
	mu sync.RWMutex

	file Backend // nil when the file store is unavailable
	kv   Backend // nil when no key-value store is configured

	active     Kind
	fellBack   bool
	writeIndex uint64

	gate       Gate
	opts       Options
	lastHealth HealthLevel
}

// Open builds a LogStore. The file backend is preferred; the key-value backend
// is used when the file store is missing or unusable, and while a fresh file
// store still waits for legacy records to be migrated.
func Open(file, kv Backend, gate Gate, opts Options) (*LogStore, error) {
	if file == nil && kv == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrBackendUnavailable)
	}
	opts.setDefaults()
	s := &LogStore{file: file, kv: kv, gate: gate, opts: opts}

	if file != nil {
		idx, ok, err := file.LoadWriteIndex()
		switch {
		case errors.Is(err, ErrBackendUnavailable):
			log.Printf("store: file store unavailable, using key-value store: %v", err)
			s.file = nil
		case err != nil:
			log.Printf("store: file metadata unreadable, restarting at index 0: %v", err)
			idx, ok = 0, false
		}
		if s.file != nil && (ok || !s.hasLegacy()) {
			s.active = FileBacked
			s.writeIndex = idx
			return s, nil
		}
	}

	if kv == nil {
		return nil, fmt.Errorf("%w: file store unusable and no key-value store", ErrBackendUnavailable)
	}
	idx, _, err := kv.LoadWriteIndex()
	if err != nil {
		log.Printf("store: kv write index unreadable, restarting at index 0: %v", err)
		idx = 0
	}
	s.active = KeyValueBacked
	s.writeIndex = idx
	return s, nil
}

func (s *LogStore) hasLegacy() bool {
	if s.kv == nil {
		return false
	}
	slots, err := s.kv.Slots()
	return err == nil && len(slots) > 0
}

// slotOf maps a logical index onto a physical slot of b. This is the only
// place the wraparound policy lives.
func slotOf(b Backend, index uint64) uint64 {
	return index % b.Capacity()
}

func (s *LogStore) activeLocked() Backend {
	if s.active == FileBacked {
		return s.file
	}
	return s.kv
}

func (s *LogStore) windowLocked() (start, end uint64) {
	c := s.activeLocked().Capacity()
	end = s.writeIndex
	if end > c {
		start = end - c
	}
	return start, end
}

// Append persists rec at the next logical index and returns that index.
// It is refused unless the clock gate is SetAccurate and the timestamp is
// past the sanity floor. On failure the write index does not move.
func (s *LogStore) Append(rec record.LogRecord) (uint64, error) {
	if s.gate == nil {
		return 0, fmt.Errorf("store: append refused: %w (no clock gate)", clock.ErrNotAccurate)
	}
	if st := s.gate.State(); st != clock.SetAccurate {
		return 0, fmt.Errorf("store: append refused: %w (clock %s)", clock.ErrNotAccurate, st)
	}
	if rec.Timestamp < clock.SanityFloor {
		return 0, fmt.Errorf("store: append refused: %w: %d", clock.ErrBelowFloor, rec.Timestamp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.writeIndex
	err := s.writeRecordLocked(s.activeLocked(), idx, rec)
	if errors.Is(err, ErrBackendUnavailable) && s.active == FileBacked && s.kv != nil {
		s.fallbackLocked(err)
		err = s.writeRecordLocked(s.kv, idx, rec)
	}
	if err != nil {
		return 0, err
	}
	s.writeIndex = idx + 1
	return idx, nil
}

// fallbackLocked switches to the key-value store for the rest of the session.
func (s *LogStore) fallbackLocked(cause error) {
	log.Printf("store: file store unavailable (%v), falling back to key-value store for this session", cause)
	s.active = KeyValueBacked
	s.fellBack = true
}

// writeRecordLocked writes rec at logical index idx on b, reclaiming space if
// needed, then persists idx+1 as b's write index. Once the record is on b it
// is committed: a failed index write is logged and retried by the next
// append, since the slot may already hold what used to be the oldest record.
func (s *LogStore) writeRecordLocked(b Backend, idx uint64, rec record.LogRecord) error {
	data := record.Encode(rec)
	if err := s.writeWithReclaim(b, idx, data[:]); err != nil {
		return err
	}
	if err := b.StoreWriteIndex(idx + 1); err != nil {
		log.Printf("store: record %d written but write index not persisted, retrying on next append: %v", idx, err)
	}
	return nil
}

// writeWithReclaim retries an out-of-space write twice: first after removing
// only the slot about to be overwritten, then after freeing a small batch of
// the oldest retained slots. Never a bulk wipe.
func (s *LogStore) writeWithReclaim(b Backend, idx uint64, data []byte) error {
	slot := slotOf(b, idx)
	err := b.WriteAt(slot, data)
	if err == nil || !errors.Is(err, ErrWriteFailure) {
		return err
	}

	log.Printf("store: write of index %d failed (%v), reclaiming slot %d", idx, err, slot)
	if rerr := b.RemoveAt(slot); rerr != nil && !errors.Is(rerr, ErrNotFound) {
		log.Printf("store: reclaim slot %d: %v", slot, rerr)
	}
	err = b.WriteAt(slot, data)
	if err == nil || !errors.Is(err, ErrWriteFailure) {
		return err
	}

	victims := oldestSlots(b, idx, s.opts.ReclaimBatch)
	log.Printf("store: write of index %d still failing, reclaiming %d oldest slots", idx, len(victims))
	for _, v := range victims {
		if rerr := b.RemoveAt(v); rerr != nil && !errors.Is(rerr, ErrNotFound) {
			log.Printf("store: reclaim slot %d: %v", v, rerr)
		}
	}
	if err = b.WriteAt(slot, data); err != nil {
		return fmt.Errorf("store: append index %d: %w", idx, err)
	}
	return nil
}

// oldestSlots returns up to n slots holding the oldest records that stay
// retained once idx is written, excluding idx's own slot.
func oldestSlots(b Backend, idx uint64, n int) []uint64 {
	c := b.Capacity()
	var first uint64
	if idx+1 > c {
		first = idx + 1 - c
	}
	out := make([]uint64, 0, n)
	for i := first; i < idx && len(out) < n; i++ {
		out = append(out, slotOf(b, i))
	}
	return out
}

// ReadRange reads count records starting at logical index start. Indices
// outside the retained window, missing slots and corrupt records are reported
// per entry and never abort the batch. A count of zero or less reads nothing.
// When the file store misses a record, the key-value record at the equivalent
// slot is tried and up-converted.
func (s *LogStore) ReadRange(start uint64, count int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count <= 0 {
		return nil
	}
	lo, hi := s.windowLocked()
	b := s.activeLocked()
	out := make([]Entry, 0, count)
	for i := start; i < start+uint64(count); i++ {
		e := Entry{Index: i}
		if i < lo || i >= hi {
			e.Err = ErrNotFound
			out = append(out, e)
			continue
		}
		rec, err := readRecord(b, slotOf(b, i))
		if err != nil && s.active == FileBacked && s.kv != nil {
			if lrec, lerr := readRecord(s.kv, slotOf(s.kv, i)); lerr == nil {
				rec, err = lrec, nil
			}
		}
		e.Record, e.Err = rec, err
		out = append(out, e)
	}
	return out
}

// readRecord reads and decodes one slot. Corrupt records read as not found.
func readRecord(b Backend, slot uint64) (record.LogRecord, error) {
	data, err := b.ReadAt(slot)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return record.LogRecord{}, ErrNotFound
		}
		return record.LogRecord{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	rec, err := record.DecodeAny(data)
	if err != nil {
		return record.LogRecord{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return rec, nil
}

// Window returns the retained logical index range [start, end).
func (s *LogStore) Window() (start, end uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windowLocked()
}

// Count returns the number of logical records in the retained window.
func (s *LogStore) Count() uint64 {
	lo, hi := s.Window()
	return hi - lo
}

// WriteIndex returns the next logical index to be written.
func (s *LogStore) WriteIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeIndex
}

// Active returns the backend currently receiving appends.
func (s *LogStore) Active() Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Capacity returns the retained-record capacity of the active backend.
func (s *LogStore) Capacity() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked().Capacity()
}

// Clear wipes both backends and resets the write index. Explicit user action only.
func (s *LogStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range []Backend{s.file, s.kv} {
		if b == nil {
			continue
		}
		if err := b.ClearAll(); err != nil {
			return fmt.Errorf("store: clear %s: %w", b.Kind(), err)
		}
	}
	if err := s.activeLocked().StoreWriteIndex(0); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	s.writeIndex = 0
	log.Printf("store: log cleared")
	return nil
}

// Close closes both backends.
func (s *LogStore) Close() error {
	var errs []error
	for _, b := range []Backend{s.file, s.kv} {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
