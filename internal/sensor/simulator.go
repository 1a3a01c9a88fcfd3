package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator produces plausible indoor readings: a slow daily swing around a
// base PM2.5 level plus noise. Used when no sensor is attached.
type Simulator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	base float64
	now  func() time.Time
}

// NewSimulator returns a simulator centred on basePM25 µg/m³.
func NewSimulator(basePM25 float64, seed int64) *Simulator {
	if basePM25 <= 0 {
		basePM25 = 8
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed)), base: basePM25, now: time.Now}
}

func (s *Simulator) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	hours := float64(t.Hour()) + float64(t.Minute())/60
	pm25 := s.base * (1 + 0.5*math.Sin(2*math.Pi*hours/24))
	pm25 += s.rng.NormFloat64() * s.base * 0.1
	if pm25 < 0 {
		pm25 = 0
	}

	r := Reading{
		PM1:  clamp16(pm25 * 0.7),
		PM25: clamp16(pm25),
		PM10: clamp16(pm25 * 1.3),
	}
	r.PM1Std, r.PM25Std, r.PM10Std = r.PM1, r.PM25, r.PM10
	counts := []float64{150, 45, 8, 1.2, 0.4, 0.1}
	for i, c := range counts {
		r.Counts[i] = clamp16(pm25 * c)
	}
	return r, nil
}

func (s *Simulator) Close() error { return nil }

func clamp16(v float64) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(math.Round(v))
}
