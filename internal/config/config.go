// YAML config loader with CUE validation and environment overrides
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the run record backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

// SimulationConfig holds the tick cadence and the synthetic generation constants.
type SimulationConfig struct {
	TickInterval       time.Duration `yaml:"tick_interval"`
	CheckpointEvery    int           `yaml:"checkpoint_every"`
	ReferenceLat       float64       `yaml:"reference_lat"`
	ReferenceLon       float64       `yaml:"reference_lon"`
	PositionJitter     float64       `yaml:"position_jitter"`
	DeliveryChance     float64       `yaml:"delivery_chance"`
	OnTimeChance       float64       `yaml:"on_time_chance"`
	EventChance        float64       `yaml:"event_chance"`
	RevenuePerDelivery float64       `yaml:"revenue_per_delivery"`
	CostPerKm          float64       `yaml:"cost_per_km"`
}

// BroadcastConfig sizes per-subscriber queues.
type BroadcastConfig struct {
	Buffer       int           `yaml:"buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TelemetryConfig configures optional sample sinks.
type TelemetryConfig struct {
	LogFile          string `yaml:"log_file"`
	GreptimeEndpoint string `yaml:"greptime_endpoint"`
	GreptimeDatabase string `yaml:"greptime_database"`
	TelemetryTable   string `yaml:"telemetry_table"`
	EventTable       string `yaml:"event_table"`
	ProgressTable    string `yaml:"progress_table"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Simulation SimulationConfig `yaml:"simulation"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the configuration used when no file or override is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":5000", ShutdownTimeout: 10 * time.Second},
		Store:  StoreConfig{Driver: "memory", Path: "data/runs"},
		Simulation: SimulationConfig{
			TickInterval:       time.Second,
			CheckpointEvery:    10,
			ReferenceLat:       40.7128,
			ReferenceLon:       -74.0060,
			PositionJitter:     0.1,
			DeliveryChance:     0.05,
			OnTimeChance:       0.7,
			EventChance:        0.01,
			RevenuePerDelivery: 50,
			CostPerKm:          0.5,
		},
		Broadcast: BroadcastConfig{Buffer: 64, WriteTimeout: 10 * time.Second},
		Telemetry: TelemetryConfig{
			GreptimeDatabase: "public",
			TelemetryTable:   "driver_telemetry",
			EventTable:       "simulation_events",
			ProgressTable:    "simulation_progress",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, a .env
// file in the working directory and process environment variables, in that
// order of precedence (later wins).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := ValidateWithCue(path, data); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("env PORT: %q is not a port number", v)
		}
		c.Server.Addr = ":" + v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "memory" {
			c.Store.Driver = "postgres"
		}
	}
	str("STORE_DRIVER", &c.Store.Driver)
	str("BADGER_PATH", &c.Store.Path)
	if v, ok := lookup("TICK_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env TICK_INTERVAL: %w", err)
		}
		c.Simulation.TickInterval = d
	}
	str("GREPTIMEDB_ENDPOINT", &c.Telemetry.GreptimeEndpoint)
	str("GREPTIMEDB_DATABASE", &c.Telemetry.GreptimeDatabase)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "badger":
		if c.Store.Path == "" {
			return errors.New("config: store.path is required for the badger driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Simulation.TickInterval <= 0 {
		return fmt.Errorf("config: simulation.tick_interval must be positive, got %s", c.Simulation.TickInterval)
	}
	if c.Broadcast.Buffer <= 0 {
		return fmt.Errorf("config: broadcast.buffer must be positive, got %d", c.Broadcast.Buffer)
	}
	return nil
}
