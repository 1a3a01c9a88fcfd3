package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "air-sensor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPartialFile(t *testing.T) {
	path := writeFile(t, `
storage:
  root: /tmp/air
  file_capacity: 1000
sampling:
  light_interval: 30s
  power_mode: deep
radio:
  link: mqtt
  broker: tcp://localhost:1883
  topic_prefix: air/bench
transfer:
  chunk_bytes: 180
led:
  chip: ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/air", cfg.Storage.Root)
	assert.Equal(t, uint64(1000), cfg.Storage.FileCapacity)
	assert.Equal(t, uint64(500), cfg.Storage.KVCapacity, "default kept")
	assert.Equal(t, 30*time.Second, cfg.Sampling.LightInterval)
	assert.Equal(t, 5*time.Minute, cfg.Sampling.DeepInterval)
	assert.Equal(t, "deep", cfg.Sampling.PowerMode)
	assert.Equal(t, "mqtt", cfg.Radio.Link)
	assert.Equal(t, "air/bench", cfg.Radio.TopicPrefix)
	assert.Equal(t, 180, cfg.Transfer.ChunkBytes)
	assert.Equal(t, 50, cfg.Transfer.BatchSize)
	assert.Empty(t, cfg.LED.Chip, "explicit empty chip disables the LED")
	assert.Equal(t, ":80", cfg.HTTP.Addr)
}

func TestLoadZeroedFieldsFallBackToDefaults(t *testing.T) {
	path := writeFile(t, `
storage:
  warn_entries: 0
  critical_entries: 0
radio:
  tick: 0s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), cfg.Storage.WarnEntries)
	assert.Equal(t, uint64(20), cfg.Storage.CritEntries)
	assert.Equal(t, 200*time.Millisecond, cfg.Radio.Tick)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "storage: [unclosed"))
	assert.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"critical above warn", func(c *Config) { c.Storage.CritEntries = 300 }, "critical_entries"},
		{"power mode", func(c *Config) { c.Sampling.PowerMode = "hibernate" }, "power_mode"},
		{"interval too short", func(c *Config) { c.Sampling.LightInterval = 100 * time.Millisecond }, "light_interval"},
		{"deep shorter than light", func(c *Config) { c.Sampling.DeepInterval = 10 * time.Second }, "deep_interval"},
		{"negative debounce", func(c *Config) { c.Sampling.Debounce = -time.Second }, "debounce"},
		{"unknown link", func(c *Config) { c.Radio.Link = "lora" }, "radio.link"},
		{"mqtt without broker", func(c *Config) { c.Radio.Link = "mqtt"; c.Radio.Broker = "" }, "radio.broker"},
		{"chunk too large", func(c *Config) { c.Transfer.ChunkBytes = 4096 }, "chunk_bytes"},
		{"battery range", func(c *Config) { c.Battery.Fixed = 150 }, "battery.fixed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadValidates(t *testing.T) {
	_, err := Load(writeFile(t, "radio:\n  link: zigbee\n"))
	assert.ErrorContains(t, err, "radio.link")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Radio.Link = "none"
	cfg.Sampling.LightInterval = 45 * time.Second
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
