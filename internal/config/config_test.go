package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greencart.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
store:
  driver: badger
  path: /tmp/runs
simulation:
  tick_interval: 250ms
  delivery_chance: 0.2
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Store.Driver != "badger" {
		t.Errorf("unexpected server/store: %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Simulation.TickInterval != 250*time.Millisecond {
		t.Errorf("tick interval=%s", cfg.Simulation.TickInterval)
	}
	if cfg.Simulation.DeliveryChance != 0.2 {
		t.Errorf("delivery chance=%v", cfg.Simulation.DeliveryChance)
	}
	// untouched keys keep defaults
	if cfg.Simulation.ReferenceLat != 40.7128 || cfg.Simulation.CheckpointEvery != 10 {
		t.Errorf("defaults lost: %+v", cfg.Simulation)
	}
}

func TestLoadConfig_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "store:\n  driver: sqlite\n",
		"bad probability":   "simulation:\n  event_chance: 1.5\n",
		"unknown key":       "simulation:\n  warp_speed: 9\n",
		"bad duration":      "simulation:\n  tick_interval: soon\n",
		"bad log format":    "log:\n  format: xml\n",
		"addr without port": "server:\n  addr: localhost\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Simulation.TickInterval != time.Second {
		t.Errorf("default tick interval=%s", cfg.Simulation.TickInterval)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                "9000",
		"DATABASE_URL":        "postgres://u:p@localhost/greencart",
		"TICK_INTERVAL":       "50ms",
		"GREPTIMEDB_ENDPOINT": "greptime:4001",
		"LOG_LEVEL":           "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr=%s", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "postgres" || !strings.HasPrefix(cfg.Store.DSN, "postgres://") {
		t.Errorf("store=%+v", cfg.Store)
	}
	if cfg.Simulation.TickInterval != 50*time.Millisecond {
		t.Errorf("tick=%s", cfg.Simulation.TickInterval)
	}
	if cfg.Telemetry.GreptimeEndpoint != "greptime:4001" || cfg.Log.Level != "warn" {
		t.Errorf("telemetry/log=%+v %+v", cfg.Telemetry, cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	for key, val := range map[string]string{"PORT": "http", "TICK_INTERVAL": "fast"} {
		cfg := Default()
		lookup := func(k string) (string, bool) {
			if k == key {
				return val, true
			}
			return "", false
		}
		if err := cfg.applyEnv(lookup); err == nil {
			t.Errorf("%s=%q: expected error", key, val)
		}
	}
}

func TestValidate_Store(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("postgres without dsn should fail")
	}
	cfg.Store.Driver = "badger"
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("badger without path should fail")
	}
}
