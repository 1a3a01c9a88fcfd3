// Command air-sensor samples a particulate sensor, logs readings to flash-style
// storage and serves live values and history over a BLE or MQTT link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/air-sensor/internal/battery"
	"github.com/sweeney/air-sensor/internal/clock"
	"github.com/sweeney/air-sensor/internal/config"
	"github.com/sweeney/air-sensor/internal/led"
	"github.com/sweeney/air-sensor/internal/radio"
	"github.com/sweeney/air-sensor/internal/sampler"
	"github.com/sweeney/air-sensor/internal/sensor"
	"github.com/sweeney/air-sensor/internal/slot"
	"github.com/sweeney/air-sensor/internal/status"
	"github.com/sweeney/air-sensor/internal/storage"
	"github.com/sweeney/air-sensor/internal/transfer"
	"github.com/sweeney/air-sensor/internal/web"
)

const storageCheckInterval = 10 * time.Minute

type options struct {
	configPath  string
	printHealth bool
	repair      bool
	clearLog    bool
	setClock    uint64
	httpAddr    string
	httpSet     bool
	simulate    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "/etc/air-sensor.yaml", "YAML configuration file")
	flag.BoolVar(&opts.printHealth, "print-health", false, "Print storage health and exit")
	flag.BoolVar(&opts.repair, "repair", false, "Wipe the key-value store if storage health is critical, then exit")
	flag.BoolVar(&opts.clearLog, "clear-log", false, "Erase the measurement log and exit")
	flag.Uint64Var(&opts.setClock, "set-clock", 0, "Set device time (unix seconds); local writes never enable logging")
	flag.StringVar(&opts.httpAddr, "http", "", "HTTP status address, overrides the config file (empty to disable)")
	flag.BoolVar(&opts.simulate, "simulate", false, "Use the simulated sensor")

	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "http" {
			opts.httpSet = true
		}
	})

	if err := run(opts, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(opts options, out io.Writer) error {
	if opts.setClock > math.MaxUint32 {
		return fmt.Errorf("-set-clock %d: out of range for a 32-bit epoch", opts.setClock)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.httpSet {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if opts.simulate {
		cfg.Sensor.Simulate = true
	}

	gate := clock.NewGate(nil)
	if opts.setClock != 0 {
		if err := gate.Set(uint32(opts.setClock), clock.SourceLocal); err != nil {
			log.Printf("clock: %v", err)
		}
	}

	store, err := openStore(cfg, gate)
	if err != nil {
		return err
	}
	defer store.Close()

	if done, err := runOneShot(opts, store, out); done {
		return err
	}

	if rep := store.MigrateLegacy(); rep.Found > 0 {
		log.Printf("store: migrated %d/%d legacy records (%d failed)", rep.Migrated, rep.Found, rep.Failed)
	}
	if h := store.HealthCheck(); h.Level == storage.HealthCritical {
		log.Printf("store: %s, repairing", h)
		if err := store.Repair(); err != nil {
			log.Printf("store: repair failed: %v", err)
		}
	} else {
		log.Printf("store: %s", h)
	}

	sens, err := openSensor(cfg.Sensor)
	if err != nil {
		return err
	}
	defer sens.Close()

	indicator := openIndicator(cfg.LED)
	defer indicator.Close()

	mode, err := sampler.ParsePowerMode(cfg.Sampling.PowerMode)
	if err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		SampleMs:   cfg.Sampling.LightInterval.Milliseconds(),
		DeepMs:     cfg.Sampling.DeepInterval.Milliseconds(),
		PowerMode:  mode.String(),
		Link:       cfg.Radio.Link,
		DeviceName: cfg.Radio.DeviceName,
		Broker:     cfg.Radio.Broker,
		HTTPAddr:   cfg.HTTP.Addr,
	})
	reportStorage(tracker, store.HealthCheck())

	live := slot.New()
	task := sampler.New(sampler.Deps{
		Sensor:    sens,
		Battery:   openBattery(cfg.Battery),
		Slot:      live,
		Store:     store,
		Clock:     gate,
		Indicator: indicator,
		Tracker:   tracker,
	}, sampler.Config{
		LightInterval: cfg.Sampling.LightInterval,
		DeepInterval:  cfg.Sampling.DeepInterval,
		Mode:          mode,
		LockTimeout:   cfg.Sampling.LockTimeout,
		Debounce:      cfg.Sampling.Debounce,
	})

	var svc *radio.Service
	if link := newLink(cfg.Radio); link != nil {
		svc = radio.NewService(radio.Deps{
			Link: link,
			Slot: live,
			Transfer: transfer.New(store, transfer.Config{
				ChunkBytes:     cfg.Transfer.ChunkBytes,
				BatchSize:      cfg.Transfer.BatchSize,
				AvgRecordBytes: cfg.Transfer.AvgRecordBytes,
			}),
			Clock:     gate,
			Indicator: indicator,
			Tracker:   tracker,
		}, radio.Config{
			LinkName:          cfg.Radio.Link,
			Tick:              cfg.Radio.Tick,
			GraceDelay:        cfg.Radio.GraceDelay,
			AdvertiseWatchdog: cfg.Radio.AdvertiseWatchdog,
			LockTimeout:       cfg.Radio.LockTimeout,
		})
	} else {
		log.Printf("radio: disabled by config")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, store)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: interval=%v mode=%s link=%s store=%s",
		cfg.Sampling.LightInterval, mode, cfg.Radio.Link, store.Active())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return task.Run(ctx) })
	if svc != nil {
		g.Go(func() error { return svc.Run(ctx) })
	}
	g.Go(func() error { return monitorStorage(ctx, store, tracker, storageCheckInterval) })

	err = g.Wait()
	log.Printf("shutting down")
	return err
}

// runOneShot handles the maintenance flags. done reports whether the command
// should exit instead of starting the daemon.
func runOneShot(opts options, store *storage.LogStore, out io.Writer) (done bool, err error) {
	switch {
	case opts.clearLog:
		if err := store.Clear(); err != nil {
			return true, fmt.Errorf("clear log: %w", err)
		}
		fmt.Fprintln(out, "log cleared")
		return true, nil
	case opts.repair:
		h := store.HealthCheck()
		if h.Level != storage.HealthCritical {
			fmt.Fprintf(out, "repair not needed: %s\n", h)
			return true, nil
		}
		if err := store.Repair(); err != nil {
			return true, err
		}
		fmt.Fprintf(out, "repaired: %s\n", store.HealthCheck())
		return true, nil
	case opts.printHealth:
		fmt.Fprintln(out, store.HealthCheck())
		return true, nil
	}
	return false, nil
}

// openStore opens whichever backends are available. The file store is
// optional; the key-value store is only required when the file store fails.
func openStore(cfg *config.Config, gate storage.Gate) (*storage.LogStore, error) {
	var file, kv storage.Backend

	if cfg.Storage.Root != "" {
		fb, err := storage.OpenFileBackend(storage.FileOptions{
			Root:       cfg.Storage.Root,
			Capacity:   cfg.Storage.FileCapacity,
			BucketSize: cfg.Storage.BucketSize,
			QuotaBytes: cfg.Storage.QuotaBytes,
		})
		if err != nil {
			log.Printf("store: %v", err)
		} else {
			file = fb
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.KVPath), 0o755); err != nil {
		log.Printf("store: %v", err)
	}
	kb, err := storage.OpenKVBackend(storage.KVOptions{
		Path:     cfg.Storage.KVPath,
		Capacity: cfg.Storage.KVCapacity,
	})
	if err != nil {
		if file == nil {
			return nil, fmt.Errorf("open key-value store: %w", err)
		}
		log.Printf("store: key-value store unavailable: %v", err)
	} else {
		kv = kb
	}

	store, err := storage.Open(file, kv, gate, storage.Options{
		ReclaimBatch:    cfg.Storage.ReclaimBatch,
		WarnEntries:     cfg.Storage.WarnEntries,
		CriticalEntries: cfg.Storage.CritEntries,
	})
	if err != nil {
		for _, b := range []storage.Backend{file, kv} {
			if b != nil {
				b.Close()
			}
		}
		return nil, err
	}
	return store, nil
}

func openSensor(cfg config.SensorConfig) (sensor.Sensor, error) {
	if cfg.Simulate {
		log.Printf("sensor: using simulator (PM2.5 baseline %.1f)", cfg.SimPM25)
		return sensor.NewSimulator(cfg.SimPM25, time.Now().UnixNano()), nil
	}
	s, err := sensor.OpenPMS5003(cfg.Port, cfg.Baud, cfg.Timeout)
	if err != nil {
		// The sampler reports a missing sensor every cycle, like a disconnected one.
		log.Printf("sensor: %v", err)
		return missingSensor{err: err}, nil
	}
	return s, nil
}

// missingSensor stands in for a sensor whose port could not be opened.
type missingSensor struct{ err error }

func (m missingSensor) Read(context.Context) (sensor.Reading, error) {
	return sensor.Reading{}, fmt.Errorf("%w: %v", sensor.ErrUnavailable, m.err)
}

func (missingSensor) Close() error { return nil }

func openBattery(cfg config.BatteryConfig) battery.Reader {
	if cfg.Fixed > 0 {
		return battery.Fixed(cfg.Fixed)
	}
	return battery.Sysfs{Path: cfg.SysfsPath}
}

func openIndicator(cfg config.LEDConfig) led.Indicator {
	if cfg.Chip == "" {
		return &led.LogIndicator{}
	}
	ind, err := led.NewGPIOIndicator(cfg.Chip, cfg.Red, cfg.Green, cfg.Blue)
	if err != nil {
		log.Printf("led: %v; logging status instead", err)
		return &led.LogIndicator{}
	}
	return ind
}

// newLink returns the configured link, or nil when the radio is disabled.
func newLink(cfg config.RadioConfig) radio.Link {
	switch cfg.Link {
	case "ble":
		return radio.NewBLELink(cfg.DeviceName)
	case "mqtt":
		prefix := cfg.TopicPrefix
		if prefix == "" {
			prefix = "air/" + cfg.DeviceName
		}
		return radio.NewMQTTLink(radio.MQTTConfig{
			Broker:     cfg.Broker,
			ClientID:   cfg.DeviceName,
			Prefix:     prefix,
			BufferSize: cfg.BufferSize,
		})
	default:
		return nil
	}
}

// monitorStorage refreshes the storage status periodically. It never repairs;
// that happens at boot or on request.
func monitorStorage(ctx context.Context, store *storage.LogStore, tracker *status.Tracker, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	level := storage.HealthOK
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h := store.HealthCheck()
			if h.Level != level {
				log.Printf("store: health %s", h)
				level = h.Level
			}
			reportStorage(tracker, h)
		}
	}
}

func reportStorage(tracker *status.Tracker, h storage.Health) {
	tracker.SetStorage(status.StorageInfo{
		Active:     h.Active.String(),
		WriteIndex: h.WriteIndex,
		Retained:   h.Retained,
		Capacity:   h.Capacity,
		Health:     h.Level.String(),
	})
}
