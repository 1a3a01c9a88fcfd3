package storage

import (
	"fmt"
	"log"
	"math"
)

// HealthLevel grades how close the active backend is to running out of space.
type HealthLevel int

const (
	HealthOK HealthLevel = iota
	HealthWarning
	HealthCritical
)

func (h HealthLevel) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthWarning:
		return "warning"
	case HealthCritical:
		return "critical"
	default:
		return fmt.Sprintf("HealthLevel(%d)", int(h))
	}
}

// Health is the result of a HealthCheck.
type Health struct {
	Level      HealthLevel
	Active     Kind
	Capacity   uint64
	Retained   uint64
	WriteIndex uint64
	// FreeEntries is the estimated number of records that still fit;
	// math.MaxUint64 when the backend cannot tell.
	FreeEntries uint64
	// LegacyRecords counts key-value records still awaiting migration while
	// the file store is active.
	LegacyRecords int
	Err           error
}

func (h Health) String() string {
	free := "unknown"
	if h.FreeEntries != math.MaxUint64 {
		free = fmt.Sprintf("%d", h.FreeEntries)
	}
	return fmt.Sprintf("%s backend=%s retained=%d/%d writeIndex=%d free=%s legacy=%d",
		h.Level, h.Active, h.Retained, h.Capacity, h.WriteIndex, free, h.LegacyRecords)
}

// CapacityEstimate returns how many more records the active backend can take
// before it runs out of space.
func (s *LogStore) CapacityEstimate() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return estimateEntries(s.activeLocked())
}

func estimateEntries(b Backend) (uint64, error) {
	free, err := b.FreeCapacityHint()
	if err != nil {
		return 0, err
	}
	if free < 0 {
		return math.MaxUint64, nil
	}
	cost := b.EntryCost()
	if cost <= 0 {
		cost = 1
	}
	return uint64(free / cost), nil
}

// HealthCheck grades the active backend. A store whose remaining ring still
// fits in the free space is OK regardless of the thresholds: a full circular
// log overwrites in place and needs no extra room.
func (s *LogStore) HealthCheck() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := s.windowLocked()
	b := s.activeLocked()
	h := Health{
		Active:     s.active,
		Capacity:   b.Capacity(),
		Retained:   hi - lo,
		WriteIndex: s.writeIndex,
	}
	if s.active == FileBacked && s.kv != nil {
		if slots, err := s.kv.Slots(); err == nil {
			h.LegacyRecords = len(slots)
		}
	}

	free, err := estimateEntries(b)
	if err != nil {
		h.Err = err
		h.Level = HealthWarning
		h.FreeEntries = 0
		log.Printf("store: health check cannot read free space: %v", err)
		s.lastHealth = h.Level
		return h
	}
	h.FreeEntries = free

	need := h.Capacity - h.Retained
	switch {
	case free >= need:
		h.Level = HealthOK
	case free <= s.opts.CriticalEntries:
		h.Level = HealthCritical
	case free <= s.opts.WarnEntries:
		h.Level = HealthWarning
	default:
		h.Level = HealthOK
	}
	s.lastHealth = h.Level
	return h
}

// Repair wipes the key-value store and restarts the log at index 0. It only
// runs when the most recent HealthCheck reported HealthCritical.
func (s *LogStore) Repair() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastHealth != HealthCritical {
		return fmt.Errorf("%w (last check: %s)", ErrRepairRefused, s.lastHealth)
	}
	if s.kv != nil {
		if err := s.kv.ClearAll(); err != nil {
			return fmt.Errorf("store: repair: %w", err)
		}
	}
	if err := s.activeLocked().StoreWriteIndex(0); err != nil {
		return fmt.Errorf("store: repair: %w", err)
	}
	s.writeIndex = 0
	s.lastHealth = HealthOK
	log.Printf("store: repair complete, key-value store cleared, log restarted on %s", s.active)
	return nil
}
