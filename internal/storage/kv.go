package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	// CGO-free SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

const (
	// DefaultKVEntryCost is two 32-byte NVS entries (key header + blob).
	DefaultKVEntryCost = 64

	kvSlotPrefix    = "log"
	kvWriteIndexKey = "writeIndex"
)

// KVOptions configures a KVBackend.
type KVOptions struct {
	Path       string // SQLite file emulating the NVS partition
	Capacity   uint64 // circular slots retained
	MaxEntries int    // partition entry limit; 0 = Capacity + 1 (slots + write index)
	EntryCost  int64
}

// KVBackend emulates the key-value flash partition on SQLite: one key per
// circular slot ("log" + slot) and a reserved key for the write index.
type KVBackend struct {
	db   *sql.DB
	opts KVOptions
}

// OpenKVBackend opens (or creates) the key-value store.
func OpenKVBackend(opts KVOptions) (*KVBackend, error) {
	if opts.Capacity == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrBackendUnavailable)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = int(opts.Capacity) + 1
	}
	if opts.EntryCost <= 0 {
		opts.EntryCost = DefaultKVEntryCost
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackendUnavailable, opts.Path, err)
	}
	// One physical connection; the partition is accessed serially.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tuneKV(ctx, db); err != nil {
		log.Printf("kv: tuning skipped: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS nvs (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create table: %v", ErrBackendUnavailable, err)
	}
	return &KVBackend{db: db, opts: opts}, nil
}

func tuneKV(ctx context.Context, db *sql.DB) error {
	var mode string
	if err := db.QueryRowContext(ctx, `PRAGMA journal_mode=WAL;`).Scan(&mode); err != nil {
		return fmt.Errorf("journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous=FULL;`); err != nil {
		return fmt.Errorf("synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000;`); err != nil {
		return fmt.Errorf("busy_timeout: %w", err)
	}
	return nil
}

func (b *KVBackend) Kind() Kind       { return KeyValueBacked }
func (b *KVBackend) Capacity() uint64 { return b.opts.Capacity }
func (b *KVBackend) EntryCost() int64 { return b.opts.EntryCost }

func slotKey(slot uint64) string {
	return kvSlotPrefix + strconv.FormatUint(slot, 10)
}

func (b *KVBackend) count() (int, error) {
	var n int
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM nvs`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *KVBackend) exists(key string) (bool, error) {
	var one int
	err := b.db.QueryRow(`SELECT 1 FROM nvs WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// put upserts key, failing with ErrWriteFailure when a new key would exceed
// the partition entry limit.
func (b *KVBackend) put(key string, value []byte) error {
	present, err := b.exists(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !present {
		n, err := b.count()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if n >= b.opts.MaxEntries {
			return fmt.Errorf("%w: kv partition full (%d entries)", ErrWriteFailure, n)
		}
	}
	_, err = b.db.Exec(
		`INSERT INTO nvs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *KVBackend) get(key string) ([]byte, error) {
	var v []byte
	err := b.db.QueryRow(`SELECT value FROM nvs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return v, nil
}

func (b *KVBackend) WriteAt(slot uint64, data []byte) error {
	return b.put(slotKey(slot), data)
}

func (b *KVBackend) ReadAt(slot uint64) ([]byte, error) {
	return b.get(slotKey(slot))
}

func (b *KVBackend) RemoveAt(slot uint64) error {
	res, err := b.db.Exec(`DELETE FROM nvs WHERE key = ?`, slotKey(slot))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *KVBackend) Slots() ([]uint64, error) {
	rows, err := b.db.Query(`SELECT key FROM nvs WHERE key LIKE ?`, kvSlotPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var slots []uint64
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(key, kvSlotPrefix), 10, 64)
		if err != nil {
			continue
		}
		slots = append(slots, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots, nil
}

func (b *KVBackend) FreeCapacityHint() (int64, error) {
	n, err := b.count()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	free := int64(b.opts.MaxEntries-n) * b.opts.EntryCost
	if free < 0 {
		free = 0
	}
	return free, nil
}

// ClearAll removes every slot key and the write index.
func (b *KVBackend) ClearAll() error {
	_, err := b.db.Exec(`DELETE FROM nvs WHERE key LIKE ? OR key = ?`, kvSlotPrefix+"%", kvWriteIndexKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// LoadWriteIndex accepts the u32 written by older firmware as well as u64.
func (b *KVBackend) LoadWriteIndex() (uint64, bool, error) {
	v, err := b.get(kvWriteIndexKey)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	switch len(v) {
	case 4:
		return uint64(binary.LittleEndian.Uint32(v)), true, nil
	case 8:
		return binary.LittleEndian.Uint64(v), true, nil
	default:
		return 0, false, fmt.Errorf("kv: corrupt write index (%d bytes)", len(v))
	}
}

func (b *KVBackend) StoreWriteIndex(idx uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], idx)
	return b.put(kvWriteIndexKey, buf[:])
}

func (b *KVBackend) Close() error {
	return b.db.Close()
}
