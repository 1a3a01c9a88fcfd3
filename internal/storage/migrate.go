package storage

import (
	"errors"
	"log"
	"sort"

	"github.com/sweeney/air-sensor/internal/record"
)

// MigrationReport summarises one MigrateLegacy run.
type MigrationReport struct {
	Found    int
	Migrated int
	Failed   int
}

// MigrateLegacy moves every record still held by the key-value store into the
// file store, oldest first, deleting each legacy key once its record has been
// appended. Interrupted runs resume where they stopped, and a run with nothing
// left to move reports zero. It does nothing without a usable file store.
func (s *LogStore) MigrateLegacy() MigrationReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep MigrationReport
	if s.file == nil || s.kv == nil || s.fellBack {
		return rep
	}

	slots, err := s.kv.Slots()
	if err != nil {
		log.Printf("store: migration skipped, cannot list legacy records: %v", err)
		return rep
	}
	if len(slots) == 0 {
		return rep
	}
	rep.Found = len(slots)

	kvW, hasKVW, err := s.kv.LoadWriteIndex()
	if err != nil {
		log.Printf("store: legacy write index unreadable, migrating in slot order: %v", err)
		hasKVW = false
	}

	var fileW uint64
	if s.active == FileBacked {
		fileW = s.writeIndex
	} else if w, ok, err := s.file.LoadWriteIndex(); err == nil && ok {
		fileW = w
	}

	for _, slot := range legacyOrder(slots, kvW, hasKVW, s.kv.Capacity()) {
		data, err := s.kv.ReadAt(slot)
		if errors.Is(err, ErrNotFound) {
			rep.Found--
			continue
		}
		if err != nil {
			log.Printf("store: migration stopped reading legacy slot %d: %v", slot, err)
			rep.Failed++
			break
		}
		rec, err := record.DecodeAny(data)
		if err != nil {
			log.Printf("store: dropping corrupt legacy slot %d: %v", slot, err)
			rep.Failed++
			s.removeLegacy(slot)
			continue
		}
		if err := s.writeRecordLocked(s.file, fileW, rec); err != nil {
			log.Printf("store: migration stopped at legacy slot %d: %v", slot, err)
			rep.Failed++
			break
		}
		fileW++
		s.removeLegacy(slot)
		rep.Migrated++
	}

	if rep.Migrated > 0 {
		s.active = FileBacked
		s.writeIndex = fileW
	}
	if left, err := s.kv.Slots(); err == nil && len(left) == 0 {
		if err := s.kv.ClearAll(); err != nil {
			log.Printf("store: clearing legacy write index: %v", err)
		}
	}

	log.Printf("store: legacy migration found=%d migrated=%d failed=%d", rep.Found, rep.Migrated, rep.Failed)
	return rep
}

func (s *LogStore) removeLegacy(slot uint64) {
	if err := s.kv.RemoveAt(slot); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("store: removing legacy slot %d: %v", slot, err)
	}
}

// legacyOrder sorts occupied key-value slots oldest first. With a known write
// index w, slot s held the largest logical index below w that is congruent to
// s modulo capacity; without one, slot order is the best available guess.
func legacyOrder(slots []uint64, w uint64, hasW bool, capacity uint64) []uint64 {
	type ordered struct{ slot, logical uint64 }
	list := make([]ordered, 0, len(slots))
	for _, sl := range slots {
		logical := sl
		if hasW && w > 0 && capacity > 0 {
			last := w - 1
			back := (last%capacity + capacity - sl%capacity) % capacity
			if back <= last {
				logical = last - back
			}
		}
		list = append(list, ordered{sl, logical})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].logical != list[j].logical {
			return list[i].logical < list[j].logical
		}
		return list[i].slot < list[j].slot
	})
	out := make([]uint64, len(list))
	for i, o := range list {
		out[i] = o.slot
	}
	return out
}
