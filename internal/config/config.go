// Package config loads the daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Sampling SamplingConfig `yaml:"sampling"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Battery  BatteryConfig  `yaml:"battery"`
	Radio    RadioConfig    `yaml:"radio"`
	Transfer TransferConfig `yaml:"transfer"`
	LED      LEDConfig      `yaml:"led"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// StorageConfig sizes the two log backends.
type StorageConfig struct {
	Root         string `yaml:"root"`          // file store directory; empty disables it
	FileCapacity uint64 `yaml:"file_capacity"` // records retained by the file store
	BucketSize   uint64 `yaml:"bucket_size"`
	QuotaBytes   int64  `yaml:"quota_bytes"` // emulated partition size, 0 = filesystem only
	KVPath       string `yaml:"kv_path"`
	KVCapacity   uint64 `yaml:"kv_capacity"`
	WarnEntries  uint64 `yaml:"warn_entries"`
	CritEntries  uint64 `yaml:"critical_entries"`
	ReclaimBatch int    `yaml:"reclaim_batch"`
}

// SamplingConfig controls the sampling loop.
type SamplingConfig struct {
	LightInterval time.Duration `yaml:"light_interval"`
	DeepInterval  time.Duration `yaml:"deep_interval"`
	PowerMode     string        `yaml:"power_mode"` // light | deep
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	Debounce      time.Duration `yaml:"debounce"`
}

// SensorConfig selects the particulate sensor.
type SensorConfig struct {
	Port     string        `yaml:"port"`
	Baud     int           `yaml:"baud"`
	Timeout  time.Duration `yaml:"timeout"`
	Simulate bool          `yaml:"simulate"`
	SimPM25  float64       `yaml:"sim_pm25"` // simulator baseline
}

// BatteryConfig selects the battery source. Fixed > 0 reports a constant
// level, for mains-powered nodes.
type BatteryConfig struct {
	SysfsPath string `yaml:"sysfs_path"`
	Fixed     int    `yaml:"fixed"`
}

// RadioConfig selects and tunes the link.
type RadioConfig struct {
	Link              string        `yaml:"link"` // ble | mqtt | none
	DeviceName        string        `yaml:"device_name"`
	Tick              time.Duration `yaml:"tick"`
	GraceDelay        time.Duration `yaml:"grace_delay"`
	AdvertiseWatchdog time.Duration `yaml:"advertise_watchdog"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	Broker            string        `yaml:"broker"`
	TopicPrefix       string        `yaml:"topic_prefix"`
	BufferSize        int           `yaml:"buffer_size"`
}

// TransferConfig sizes history chunks.
type TransferConfig struct {
	ChunkBytes     int `yaml:"chunk_bytes"`
	BatchSize      int `yaml:"batch_size"`
	AvgRecordBytes int `yaml:"avg_record_bytes"`
}

// LEDConfig wires the status LED. An empty chip disables it.
type LEDConfig struct {
	Chip  string `yaml:"chip"`
	Red   int    `yaml:"red"`
	Green int    `yaml:"green"`
	Blue  int    `yaml:"blue"`
}

// HTTPConfig is the status page listener. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:         "/var/lib/air-sensor",
			FileCapacity: 20000,
			BucketSize:   1000,
			KVPath:       "/var/lib/air-sensor/nvs.db",
			KVCapacity:   500,
			WarnEntries:  200,
			CritEntries:  20,
			ReclaimBatch: 8,
		},
		Sampling: SamplingConfig{
			LightInterval: 60 * time.Second,
			DeepInterval:  5 * time.Minute,
			PowerMode:     "light",
			LockTimeout:   100 * time.Millisecond,
			Debounce:      2 * time.Minute,
		},
		Sensor: SensorConfig{
			Port:    "/dev/serial0",
			Baud:    9600,
			Timeout: 3 * time.Second,
			SimPM25: 8,
		},
		Battery: BatteryConfig{
			SysfsPath: "/sys/class/power_supply/battery/capacity",
		},
		Radio: RadioConfig{
			Link:              "ble",
			DeviceName:        "air-sensor",
			Tick:              200 * time.Millisecond,
			GraceDelay:        500 * time.Millisecond,
			AdvertiseWatchdog: 60 * time.Second,
			LockTimeout:       100 * time.Millisecond,
			Broker:            "tcp://192.168.1.200:1883",
			BufferSize:        64,
		},
		Transfer: TransferConfig{
			ChunkBytes:     400,
			BatchSize:      50,
			AvgRecordBytes: 25,
		},
		LED: LEDConfig{
			Chip:  "gpiochip0",
			Red:   17,
			Green: 27,
			Blue:  22,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields Default().
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDefaults fills zeroed numeric fields. Strings that disable a
// component when empty (storage root, LED chip, HTTP addr) are left alone.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Storage.FileCapacity == 0 {
		c.Storage.FileCapacity = def.Storage.FileCapacity
	}
	if c.Storage.BucketSize == 0 {
		c.Storage.BucketSize = def.Storage.BucketSize
	}
	if c.Storage.KVPath == "" {
		c.Storage.KVPath = def.Storage.KVPath
	}
	if c.Storage.KVCapacity == 0 {
		c.Storage.KVCapacity = def.Storage.KVCapacity
	}
	if c.Storage.WarnEntries == 0 {
		c.Storage.WarnEntries = def.Storage.WarnEntries
	}
	if c.Storage.CritEntries == 0 {
		c.Storage.CritEntries = def.Storage.CritEntries
	}
	if c.Storage.ReclaimBatch == 0 {
		c.Storage.ReclaimBatch = def.Storage.ReclaimBatch
	}

	if c.Sampling.LightInterval == 0 {
		c.Sampling.LightInterval = def.Sampling.LightInterval
	}
	if c.Sampling.DeepInterval == 0 {
		c.Sampling.DeepInterval = def.Sampling.DeepInterval
	}
	if c.Sampling.PowerMode == "" {
		c.Sampling.PowerMode = def.Sampling.PowerMode
	}
	if c.Sampling.LockTimeout == 0 {
		c.Sampling.LockTimeout = def.Sampling.LockTimeout
	}

	if c.Sensor.Baud == 0 {
		c.Sensor.Baud = def.Sensor.Baud
	}
	if c.Sensor.Timeout == 0 {
		c.Sensor.Timeout = def.Sensor.Timeout
	}

	if c.Radio.Link == "" {
		c.Radio.Link = def.Radio.Link
	}
	if c.Radio.DeviceName == "" {
		c.Radio.DeviceName = def.Radio.DeviceName
	}
	if c.Radio.Tick == 0 {
		c.Radio.Tick = def.Radio.Tick
	}
	if c.Radio.GraceDelay == 0 {
		c.Radio.GraceDelay = def.Radio.GraceDelay
	}
	if c.Radio.AdvertiseWatchdog == 0 {
		c.Radio.AdvertiseWatchdog = def.Radio.AdvertiseWatchdog
	}
	if c.Radio.LockTimeout == 0 {
		c.Radio.LockTimeout = def.Radio.LockTimeout
	}
	if c.Radio.BufferSize == 0 {
		c.Radio.BufferSize = def.Radio.BufferSize
	}

	if c.Transfer.ChunkBytes == 0 {
		c.Transfer.ChunkBytes = def.Transfer.ChunkBytes
	}
	if c.Transfer.BatchSize == 0 {
		c.Transfer.BatchSize = def.Transfer.BatchSize
	}
	if c.Transfer.AvgRecordBytes == 0 {
		c.Transfer.AvgRecordBytes = def.Transfer.AvgRecordBytes
	}
}

// Validate rejects inconsistent settings. The first violation is returned.
func (c *Config) Validate() error {
	switch {
	case c.Storage.CritEntries >= c.Storage.WarnEntries:
		return fmt.Errorf("config: storage.critical_entries (%d) must be below warn_entries (%d)",
			c.Storage.CritEntries, c.Storage.WarnEntries)
	case c.Storage.ReclaimBatch < 1:
		return fmt.Errorf("config: storage.reclaim_batch must be positive")
	case c.Sampling.PowerMode != "light" && c.Sampling.PowerMode != "deep":
		return fmt.Errorf("config: sampling.power_mode %q must be light or deep", c.Sampling.PowerMode)
	case c.Sampling.LightInterval < time.Second:
		return fmt.Errorf("config: sampling.light_interval %s is below 1s", c.Sampling.LightInterval)
	case c.Sampling.DeepInterval < c.Sampling.LightInterval:
		return fmt.Errorf("config: sampling.deep_interval must not be shorter than light_interval")
	case c.Sampling.Debounce < 0:
		return fmt.Errorf("config: sampling.debounce must not be negative")
	case c.Radio.Link != "ble" && c.Radio.Link != "mqtt" && c.Radio.Link != "none":
		return fmt.Errorf("config: radio.link %q must be ble, mqtt or none", c.Radio.Link)
	case c.Radio.Link == "mqtt" && c.Radio.Broker == "":
		return fmt.Errorf("config: radio.broker is required for the mqtt link")
	case c.Transfer.ChunkBytes < 20 || c.Transfer.ChunkBytes > 512:
		return fmt.Errorf("config: transfer.chunk_bytes %d outside 20..512", c.Transfer.ChunkBytes)
	case c.Transfer.BatchSize < 1 || c.Transfer.AvgRecordBytes < 1:
		return fmt.Errorf("config: transfer batch and record sizes must be positive")
	case c.Battery.Fixed < 0 || c.Battery.Fixed > 100:
		return fmt.Errorf("config: battery.fixed %d outside 0..100", c.Battery.Fixed)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
