package slot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/air-sensor/internal/record"
)

const wait = 50 * time.Millisecond

func reading(pm25 uint16) record.LiveReading {
	return record.LiveReading{LogRecord: record.LogRecord{Timestamp: 1710000000, PM25: pm25}}
}

func TestPeekEmpty(t *testing.T) {
	s := New()
	snap, err := s.Peek(context.Background(), wait)
	require.NoError(t, err)
	assert.False(t, snap.Valid)
	assert.False(t, snap.Dirty)
}

func TestPublishMarksDirty(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, reading(12), wait))

	snap, err := s.Peek(ctx, wait)
	require.NoError(t, err)
	assert.True(t, snap.Valid)
	assert.True(t, snap.Dirty)
	assert.Equal(t, uint16(12), snap.Reading.PM25)

	require.NoError(t, s.MarkSent(ctx, snap.Seq, wait))
	snap, err = s.Peek(ctx, wait)
	require.NoError(t, err)
	assert.False(t, snap.Dirty)
	assert.True(t, snap.Valid)
}

func TestMarkSentKeepsNewerReadingDirty(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, reading(1), wait))
	old, err := s.Peek(ctx, wait)
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, reading(2), wait))
	require.NoError(t, s.MarkSent(ctx, old.Seq, wait))

	snap, err := s.Peek(ctx, wait)
	require.NoError(t, err)
	assert.True(t, snap.Dirty, "reading 2 was never sent")
	assert.Equal(t, uint16(2), snap.Reading.PM25)
}

func TestBusyWhenHeld(t *testing.T) {
	s := New()
	require.NoError(t, s.sem.Acquire(context.Background(), 1))

	start := time.Now()
	err := s.Publish(context.Background(), reading(5), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	_, err = s.Peek(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)

	s.sem.Release(1)
	assert.NoError(t, s.Publish(context.Background(), reading(5), wait))
}

func TestConcurrentPublishPeek(t *testing.T) {
	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Publish(ctx, reading(uint16(i)), time.Second)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if snap, err := s.Peek(ctx, time.Second); err == nil && snap.Dirty {
				_ = s.MarkSent(ctx, snap.Seq, time.Second)
			}
		}
	}()
	wg.Wait()

	snap, err := s.Peek(ctx, wait)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), snap.Seq)
	assert.Equal(t, uint16(199), snap.Reading.PM25)
}
