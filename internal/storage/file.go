package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultBucketSize bounds the number of record files per directory.
	DefaultBucketSize = 1000
	// DefaultFileEntryCost approximates one small file on a flash file system.
	DefaultFileEntryCost = 256

	logDir   = "log"
	metaFile = "meta"
	recExt   = ".rec"
)

// FileOptions configures a FileBackend.
type FileOptions struct {
	Root       string
	Capacity   uint64 // circular slots retained
	BucketSize uint64 // records per directory
	EntryCost  int64  // bytes charged per record file
	QuotaBytes int64  // emulated partition size; 0 = filesystem free space only
}

// FileBackend stores one small file per record under a bucketed directory
// tree, plus a metadata file holding the write index.
type FileBackend struct {
	opts FileOptions

	mu    sync.Mutex
	files int64 // record files present, for quota accounting
}

// OpenFileBackend prepares the directory tree and counts existing records.
// Any failure is reported as ErrBackendUnavailable.
func OpenFileBackend(opts FileOptions) (*FileBackend, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrBackendUnavailable)
	}
	if opts.Capacity == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrBackendUnavailable)
	}
	if opts.BucketSize == 0 {
		opts.BucketSize = DefaultBucketSize
	}
	if opts.EntryCost <= 0 {
		opts.EntryCost = DefaultFileEntryCost
	}

	if err := os.MkdirAll(filepath.Join(opts.Root, logDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	b := &FileBackend{opts: opts}
	slots, err := b.Slots()
	if err != nil {
		return nil, err
	}
	b.files = int64(len(slots))
	return b, nil
}

func (b *FileBackend) Kind() Kind       { return FileBacked }
func (b *FileBackend) Capacity() uint64 { return b.opts.Capacity }
func (b *FileBackend) EntryCost() int64 { return b.opts.EntryCost }

func (b *FileBackend) path(slot uint64) string {
	bucket := slot / b.opts.BucketSize
	return filepath.Join(b.opts.Root, logDir,
		strconv.FormatUint(bucket, 10),
		strconv.FormatUint(slot, 10)+recExt)
}

// WriteAt writes the record through a temp file and rename so the slot
// always holds either the old or the new record.
func (b *FileBackend) WriteAt(slot uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.path(slot)
	_, statErr := os.Stat(p)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	if isNew && b.opts.QuotaBytes > 0 && (b.files+1)*b.opts.EntryCost > b.opts.QuotaBytes {
		return fmt.Errorf("%w: quota of %d bytes exhausted", ErrWriteFailure, b.opts.QuotaBytes)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return classifyWriteErr(err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return classifyWriteErr(err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return classifyWriteErr(err)
	}
	if isNew {
		b.files++
	}
	return nil
}

func (b *FileBackend) ReadAt(slot uint64) ([]byte, error) {
	data, err := os.ReadFile(b.path(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return data, nil
}

func (b *FileBackend) RemoveAt(slot uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.path(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	b.files--
	return nil
}

func (b *FileBackend) Slots() ([]uint64, error) {
	var slots []uint64
	root := filepath.Join(b.opts.Root, logDir)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), recExt) {
			return nil
		}
		n, perr := strconv.ParseUint(strings.TrimSuffix(d.Name(), recExt), 10, 64)
		if perr != nil {
			return nil
		}
		slots = append(slots, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots, nil
}

// FreeCapacityHint is the smaller of the quota headroom and the free space
// reported by the file system.
func (b *FileBackend) FreeCapacityHint() (int64, error) {
	free, err := diskFree(b.opts.Root)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if b.opts.QuotaBytes > 0 {
		b.mu.Lock()
		headroom := b.opts.QuotaBytes - b.files*b.opts.EntryCost
		b.mu.Unlock()
		if headroom < 0 {
			headroom = 0
		}
		if free < 0 || headroom < free {
			free = headroom
		}
	}
	return free, nil
}

func (b *FileBackend) ClearAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := filepath.Join(b.opts.Root, logDir)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := os.Remove(filepath.Join(b.opts.Root, metaFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	b.files = 0
	return nil
}

// Metadata layout: write index u64 LE | crc32(IEEE) of the first 8 bytes.
func (b *FileBackend) LoadWriteIndex() (uint64, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.opts.Root, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(data) != 12 || crc32.ChecksumIEEE(data[:8]) != binary.LittleEndian.Uint32(data[8:]) {
		return 0, false, fmt.Errorf("storage: corrupt metadata (%d bytes)", len(data))
	}
	return binary.LittleEndian.Uint64(data[:8]), true, nil
}

func (b *FileBackend) StoreWriteIndex(idx uint64) error {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], idx)
	binary.LittleEndian.PutUint32(buf[8:], crc32.ChecksumIEEE(buf[:8]))

	p := filepath.Join(b.opts.Root, metaFile)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0o644); err != nil {
		os.Remove(tmp)
		return classifyWriteErr(err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return classifyWriteErr(err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

// classifyWriteErr maps a file system error onto the storage taxonomy:
// out-of-space is retryable, anything else disables the backend.
func classifyWriteErr(err error) error {
	if isNoSpace(err) {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
