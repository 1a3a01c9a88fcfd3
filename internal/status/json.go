package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Level         string         `json:"level"`
	Ready         bool           `json:"ready"`
	Reading       *ReadingJSON   `json:"reading,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	Clock         string         `json:"clock"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Storage       StorageJSON    `json:"storage"`
	Radio         RadioJSON      `json:"radio"`
	Counts        map[string]int `json:"level_changes"`
	Config        ConfigJSON     `json:"config"`
}

// ReadingJSON is the JSON representation of the latest reading.
type ReadingJSON struct {
	Timestamp string `json:"timestamp"`
	PM1       uint16 `json:"pm1"`
	PM25      uint16 `json:"pm2_5"`
	PM10      uint16 `json:"pm10"`
	Battery   uint8  `json:"battery"`
	AQI       int    `json:"aqi"`
}

// StorageJSON reports the log store.
type StorageJSON struct {
	Backend    string `json:"backend"`
	WriteIndex uint64 `json:"write_index"`
	Retained   uint64 `json:"retained"`
	Capacity   uint64 `json:"capacity"`
	Health     string `json:"health"`
	Logged     int    `json:"logged"`
	Dropped    int    `json:"dropped"`
}

// RadioJSON reports the radio link.
type RadioJSON struct {
	Link       string `json:"link"`
	State      string `json:"state"`
	Connected  bool   `json:"connected"`
	LiveSent   int    `json:"live_sent"`
	ChunksSent int    `json:"chunks_sent"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SampleMs   int64  `json:"sample_ms"`
	DeepMs     int64  `json:"deep_sample_ms"`
	PowerMode  string `json:"power_mode"`
	Link       string `json:"link"`
	DeviceName string `json:"device_name"`
	Broker     string `json:"broker,omitempty"`
	HTTPAddr   string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	level := string(snap.Level)
	if level == "" {
		level = "UNKNOWN"
	}

	inner := StatusInner{
		Level:         level,
		Ready:         snap.Baselined,
		LastError:     snap.LastError,
		Clock:         snap.ClockState,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Storage: StorageJSON{
			Backend:    snap.Storage.Active,
			WriteIndex: snap.Storage.WriteIndex,
			Retained:   snap.Storage.Retained,
			Capacity:   snap.Storage.Capacity,
			Health:     snap.Storage.Health,
			Logged:     snap.Storage.Logged,
			Dropped:    snap.Storage.Dropped,
		},
		Radio: RadioJSON{
			Link:       snap.Radio.Link,
			State:      snap.Radio.State,
			Connected:  snap.Radio.Connected,
			LiveSent:   snap.Radio.LiveSent,
			ChunksSent: snap.Radio.ChunksSent,
		},
		Counts: map[string]int{},
		Config: ConfigJSON{
			SampleMs:   snap.Config.SampleMs,
			DeepMs:     snap.Config.DeepMs,
			PowerMode:  snap.Config.PowerMode,
			Link:       snap.Config.Link,
			DeviceName: snap.Config.DeviceName,
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
		},
	}
	for level, n := range snap.Counts {
		inner.Counts[string(level)] = n
	}
	if r := snap.Latest; r != nil {
		inner.Reading = &ReadingJSON{
			Timestamp: r.Time.UTC().Format(time.RFC3339),
			PM1:       r.PM1,
			PM25:      r.PM25,
			PM10:      r.PM10,
			Battery:   r.Battery,
			AQI:       r.AQI,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
