package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck_Levels(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint64
		appended int
		freeEnt  int64
		want     HealthLevel
	}{
		{"plenty of space", 100, 0, 1000, HealthOK},
		{"full ring overwrites in place", 5, 5, 0, HealthOK},
		{"below warning", 1000, 0, 100, HealthWarning},
		{"below critical", 100, 0, 10, HealthCritical},
		{"short but above thresholds", 1000, 0, 500, HealthOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, file, _ := openFake(t, tt.capacity, 5)
			appendN(t, s, 0, tt.appended)
			file.FreeBytes = tt.freeEnt * file.Cost

			h := s.HealthCheck()
			assert.Equal(t, tt.want, h.Level)
			assert.Equal(t, uint64(tt.freeEnt), h.FreeEntries)
			assert.Equal(t, FileBacked, h.Active)
			assert.NoError(t, h.Err)
		})
	}
}

func TestHealthCheck_CustomThresholds(t *testing.T) {
	file := NewFakeBackend(FileBacked, 1000)
	s, err := Open(file, nil, accurate, Options{WarnEntries: 600, CriticalEntries: 300})
	require.NoError(t, err)
	file.FreeBytes = 500 * file.Cost
	assert.Equal(t, HealthWarning, s.HealthCheck().Level)
	file.FreeBytes = 250 * file.Cost
	assert.Equal(t, HealthCritical, s.HealthCheck().Level)
}

func TestHealthCheck_CountsLegacyRecords(t *testing.T) {
	s, _, kv := openFake(t, 100, 5)
	kv.Data[3] = []byte("x")
	h := s.HealthCheck()
	assert.Equal(t, 1, h.LegacyRecords)
	assert.Contains(t, h.String(), "legacy=1")
}

func TestCapacityEstimate(t *testing.T) {
	s, file, _ := openFake(t, 100, 5)
	file.FreeBytes = 10 * file.Cost
	n, err := s.CapacityEstimate()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestRepair_RequiresCriticalHealth(t *testing.T) {
	s, file, kv := openFake(t, 100, 5)
	appendN(t, s, 0, 3)
	kv.Data[0] = []byte("old")

	assert.ErrorIs(t, s.Repair(), ErrRepairRefused, "no health check yet")

	file.FreeBytes = 1000 * file.Cost
	require.Equal(t, HealthOK, s.HealthCheck().Level)
	assert.ErrorIs(t, s.Repair(), ErrRepairRefused)
	assert.Equal(t, uint64(3), s.WriteIndex())
	assert.Len(t, kv.Data, 1)

	file.FreeBytes = 5 * file.Cost
	require.Equal(t, HealthCritical, s.HealthCheck().Level)
	require.NoError(t, s.Repair())
	assert.Equal(t, uint64(0), s.WriteIndex())
	assert.Equal(t, uint64(0), file.WriteIndex)
	assert.Empty(t, kv.Data)

	assert.ErrorIs(t, s.Repair(), ErrRepairRefused, "one check allows one repair")
}

func TestHealthLevelString(t *testing.T) {
	assert.Equal(t, "ok", HealthOK.String())
	assert.Equal(t, "warning", HealthWarning.String())
	assert.Equal(t, "critical", HealthCritical.String())
}
