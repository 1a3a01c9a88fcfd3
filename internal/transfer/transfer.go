// Package transfer pages the log store out over a link whose messages are far
// smaller than the history. A peer prepares a session, then requests fixed-size
// chunks of the text serialisation by index.
package transfer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/sweeney/air-sensor/internal/record"
	"github.com/sweeney/air-sensor/internal/storage"
)

const (
	DefaultChunkBytes     = 400
	DefaultBatchSize      = 50
	DefaultAvgRecordBytes = 25
)

var (
	ErrNoSession       = errors.New("transfer: no prepared session")
	ErrChunkOutOfRange = errors.New("transfer: chunk index out of range")
)

// Source is the read side of the log store.
type Source interface {
	Window() (start, end uint64)
	ReadRange(start uint64, count int) []storage.Entry
}

// Config sizes the session. Zero fields take the defaults.
type Config struct {
	ChunkBytes     int // payload budget per chunk
	BatchSize      int // records loaded into the cache per refill
	AvgRecordBytes int // serialised record size used for the chunk estimate
}

func (c *Config) setDefaults() {
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = DefaultChunkBytes
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.AvgRecordBytes <= 0 {
		c.AvgRecordBytes = DefaultAvgRecordBytes
	}
}

// Progress is the peer-visible state of the session.
type Progress struct {
	Active      bool
	TotalChunks int
	Cursor      int
	Entries     uint64 // records in the prepared window
	Processed   uint64 // records loaded from the store so far
	Holes       int    // missing or corrupt records skipped
}

// checkpoint marks where a batch started: the logical record index and the
// stream offset of its first byte.
type checkpoint struct {
	index  uint64
	offset int
}

type session struct {
	start, end uint64 // prepared window, frozen for the session
	next       uint64 // next logical index to load
	loaded     uint64 // high-water mark of next, for hole accounting

	total  int
	cursor int

	cache []byte // serialised records; cache[0] sits at stream offset head
	head  int

	current     []byte
	holes       int
	checkpoints []checkpoint
}

// Controller runs one transfer session at a time. It is owned by the radio
// task and is not safe for concurrent use.
type Controller struct {
	src  Source
	cfg  Config
	sess *session
}

// New creates a Controller reading from src.
func New(src Source, cfg Config) *Controller {
	cfg.setDefaults()
	return &Controller{src: src, cfg: cfg}
}

// Prepare discards any previous session, freezes the current log window and
// loads the first batch. The chunk count is an estimate from the average
// record size.
func (c *Controller) Prepare() Progress {
	start, end := c.src.Window()
	n := end - start
	chunk := uint64(c.cfg.ChunkBytes)
	total := (n*uint64(c.cfg.AvgRecordBytes) + chunk - 1) / chunk

	c.sess = &session{
		start:  start,
		end:    end,
		next:   start,
		loaded: start,
		total:  int(total),
	}
	if n > 0 {
		c.loadBatch(0)
	}
	return c.Progress()
}

// Chunk serves chunk k: the ChunkBytes bytes of the stream starting at
// k*ChunkBytes. Past the end of the data it returns an empty payload. A
// request for an earlier chunk is re-sliced from the cache when it is still
// loaded, otherwise reloaded from the store. When the last estimated chunk is
// served and data remains, the chunk count grows by one.
func (c *Controller) Chunk(k int) ([]byte, error) {
	s := c.sess
	if s == nil {
		return nil, ErrNoSession
	}
	if k < 0 || k >= s.total {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrChunkOutOfRange, k, s.total)
	}

	off := k * c.cfg.ChunkBytes
	if off < s.head {
		c.rewind(off)
	}
	for s.head+len(s.cache) < off+c.cfg.ChunkBytes && s.next < s.end {
		c.loadBatch(off)
	}

	payload := []byte{}
	if rel := off - s.head; rel >= 0 && rel < len(s.cache) {
		n := min(c.cfg.ChunkBytes, len(s.cache)-rel)
		payload = append(payload, s.cache[rel:rel+n]...)
	}
	s.cursor = k
	s.current = payload

	if k == s.total-1 && (off+len(payload) < s.head+len(s.cache) || s.next < s.end) {
		s.total++
	}
	return payload, nil
}

// loadBatch appends the next batch of records to the cache, first dropping
// cached bytes before stream offset keepFrom.
func (c *Controller) loadBatch(keepFrom int) {
	s := c.sess
	if drop := keepFrom - s.head; drop > 0 {
		drop = min(drop, len(s.cache))
		s.cache = append(s.cache[:0], s.cache[drop:]...)
		s.head += drop
	}

	n := uint64(c.cfg.BatchSize)
	if rem := s.end - s.next; n > rem {
		n = rem
	}
	s.addCheckpoint(s.next, s.head+len(s.cache))
	for _, e := range c.src.ReadRange(s.next, int(n)) {
		if e.Err != nil {
			if e.Index >= s.loaded {
				s.holes++
			}
			continue
		}
		s.cache = record.AppendText(s.cache, e.Record)
	}
	s.next += n
	if s.next > s.loaded {
		s.loaded = s.next
	}
}

// rewind empties the cache and positions the load cursor at the last batch
// boundary at or before stream offset off.
func (c *Controller) rewind(off int) {
	s := c.sess
	i := sort.Search(len(s.checkpoints), func(i int) bool { return s.checkpoints[i].offset > off }) - 1
	if i < 0 {
		i = 0
	}
	cp := s.checkpoints[i]
	s.cache = s.cache[:0]
	s.head = cp.offset
	s.next = cp.index
}

func (s *session) addCheckpoint(index uint64, offset int) {
	if n := len(s.checkpoints); n > 0 && offset <= s.checkpoints[n-1].offset {
		return
	}
	s.checkpoints = append(s.checkpoints, checkpoint{index: index, offset: offset})
}

// Current returns the most recently served chunk, for re-sends.
func (c *Controller) Current() []byte {
	if c.sess == nil {
		return nil
	}
	return c.sess.current
}

// Progress reports the session state.
func (c *Controller) Progress() Progress {
	s := c.sess
	if s == nil {
		return Progress{}
	}
	return Progress{
		Active:      true,
		TotalChunks: s.total,
		Cursor:      s.cursor,
		Entries:     s.end - s.start,
		Processed:   s.loaded - s.start,
		Holes:       s.holes,
	}
}

// Info is the Chunk Info payload "totalChunks,currentChunkCursor".
func (c *Controller) Info() []byte {
	p := c.Progress()
	b := strconv.AppendInt(nil, int64(p.TotalChunks), 10)
	b = append(b, ',')
	return strconv.AppendInt(b, int64(p.Cursor), 10)
}
