package logic

import "time"

// Detector debounces the air-quality level so a single noisy sample does not
// flip the status LED back and forth.
type Detector struct {
	debounceDuration time.Duration
	level            LevelState
	startTime        time.Time
	eventCounts      EventCounts
}

// NewDetector creates a new level detector with the given debounce duration.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		eventCounts:      EventCounts{},
	}
}

// Process takes a new sample and returns an event if the stable level changed.
// No event is returned while the baseline is being established.
func (d *Detector) Process(input Input) *Event {
	newLevel := Classify(input.PM25)
	ls := &d.level

	if !ls.Baselined {
		if ls.Pending != newLevel {
			ls.Pending = newLevel
			ls.PendingSince = input.Time
		}
		if input.Time.Sub(ls.PendingSince) >= d.debounceDuration {
			ls.Stable = newLevel
			ls.Baselined = true
			ls.Pending = LevelUnknown
		}
		return nil
	}

	if newLevel == ls.Stable {
		ls.Pending = LevelUnknown
		return nil
	}

	if ls.Pending != newLevel {
		ls.Pending = newLevel
		ls.PendingSince = input.Time
	}
	if input.Time.Sub(ls.PendingSince) < d.debounceDuration {
		return nil
	}

	ev := &Event{
		Timestamp: input.Time,
		From:      ls.Stable,
		To:        newLevel,
		AQI:       AQI(input.PM25),
	}
	ls.Stable = newLevel
	ls.Pending = LevelUnknown
	d.eventCounts[newLevel]++
	return ev
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.level.Baselined
}

// CurrentLevel returns the stable level, or LevelUnknown before baseline.
func (d *Detector) CurrentLevel() Level {
	return d.level.Stable
}

// EventCountsSnapshot returns a copy of the per-level entry counts.
func (d *Detector) EventCountsSnapshot() EventCounts {
	out := make(EventCounts, len(d.eventCounts))
	for k, v := range d.eventCounts {
		out[k] = v
	}
	return out
}

// Uptime returns the time elapsed since the detector was created.
func (d *Detector) Uptime(now time.Time) time.Duration {
	return now.Sub(d.startTime)
}
