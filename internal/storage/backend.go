// Package storage persists the reading history as a circular log over one of
// two interchangeable flash backends: a journaling file store (preferred, high
// capacity) and a key-value store (fallback, capacity-limited, also the home
// of legacy records awaiting migration).
package storage

import (
	"errors"
	"fmt"
)

// Kind tags which backend a LogStore is currently writing to.
type Kind int

const (
	FileBacked Kind = iota
	KeyValueBacked
)

func (k Kind) String() string {
	switch k {
	case FileBacked:
		return "file"
	case KeyValueBacked:
		return "kv"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrWriteFailure means the backend ran out of space. Retryable after reclamation.
	ErrWriteFailure = errors.New("storage: write failure")
	// ErrNotFound means no record is stored at the requested slot or index.
	ErrNotFound = errors.New("storage: not found")
	// ErrBackendUnavailable means the backend cannot be used at all for this session.
	ErrBackendUnavailable = errors.New("storage: backend unavailable")
	// ErrRepairRefused is returned by Repair without a preceding critical health check.
	ErrRepairRefused = errors.New("storage: repair requires critical health")
)

// Backend is a slot-addressed persistence strategy. Slots are physical
// positions in [0, Capacity()); the LogStore owns the index-to-slot mapping.
// A single WriteAt is atomic: a reader never observes a half-written record.
type Backend interface {
	Kind() Kind
	// Capacity is the number of circular slots this backend retains.
	Capacity() uint64
	// EntryCost is the estimated bytes one record consumes, including overhead.
	EntryCost() int64

	WriteAt(slot uint64, data []byte) error
	ReadAt(slot uint64) ([]byte, error)
	RemoveAt(slot uint64) error
	// Slots lists occupied slots in ascending order.
	Slots() ([]uint64, error)
	// FreeCapacityHint returns the free bytes available to new records.
	FreeCapacityHint() (int64, error)
	ClearAll() error

	// LoadWriteIndex returns the persisted write index, if any.
	LoadWriteIndex() (uint64, bool, error)
	StoreWriteIndex(idx uint64) error

	Close() error
}
