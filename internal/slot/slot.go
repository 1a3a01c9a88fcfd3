// Package slot holds the single most recent live reading shared between the
// sampling and radio tasks.
package slot

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sweeney/air-sensor/internal/record"
)

// ErrBusy is returned when the slot lock could not be taken within the
// timeout. Callers skip the operation for this cycle.
var ErrBusy = errors.New("slot: busy")

// Slot is one LiveReading plus a dirty flag. The dirty flag means the reading
// has not yet been sent to a peer. Every access takes the lock with a bounded
// wait so neither task can stall the other for long.
type Slot struct {
	sem *semaphore.Weighted

	reading record.LiveReading
	valid   bool
	dirty   bool
	seq     uint64
}

// New returns an empty slot.
func New() *Slot {
	return &Slot{sem: semaphore.NewWeighted(1)}
}

func (s *Slot) acquire(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return ErrBusy
	}
	return nil
}

// Publish replaces the current reading and marks it dirty.
func (s *Slot) Publish(ctx context.Context, r record.LiveReading, timeout time.Duration) error {
	if err := s.acquire(ctx, timeout); err != nil {
		return err
	}
	defer s.sem.Release(1)

	s.reading = r
	s.valid = true
	s.dirty = true
	s.seq++
	return nil
}

// Snapshot is a copy of the slot taken under the lock.
type Snapshot struct {
	Reading record.LiveReading
	Valid   bool // false until the first Publish
	Dirty   bool
	Seq     uint64
}

// Peek copies the slot without changing it.
func (s *Slot) Peek(ctx context.Context, timeout time.Duration) (Snapshot, error) {
	if err := s.acquire(ctx, timeout); err != nil {
		return Snapshot{}, err
	}
	defer s.sem.Release(1)

	return Snapshot{Reading: s.reading, Valid: s.valid, Dirty: s.dirty, Seq: s.seq}, nil
}

// MarkSent clears the dirty flag if no reading newer than seq has been
// published since the Peek that returned it.
func (s *Slot) MarkSent(ctx context.Context, seq uint64, timeout time.Duration) error {
	if err := s.acquire(ctx, timeout); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if s.seq == seq {
		s.dirty = false
	}
	return nil
}
