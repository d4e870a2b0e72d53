package dashboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testTables = Tables{Telemetry: "driver_telemetry", Events: "simulation_events", Progress: "simulation_progress"}

func TestRenderMissingEnv(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "")
	t.Setenv("POSTGRES_DATASOURCE_UID", "")
	if err := Render(t.TempDir(), testTables); err == nil {
		t.Fatalf("expected error for missing env vars")
	}
}

func TestRenderSuccess(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "uid1")
	t.Setenv("POSTGRES_DATASOURCE_UID", "uid2")

	dir := t.TempDir()
	if err := Render(dir, testTables); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "greencart-telemetry.json"))
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(b), "uid1") {
		t.Fatalf("greptime uid not rendered")
	}
	for _, tbl := range []string{"driver_telemetry", "simulation_events", "simulation_progress"} {
		if !strings.Contains(string(b), "FROM "+tbl) {
			t.Fatalf("table %s not referenced", tbl)
		}
	}
	if !json.Valid(b) {
		t.Fatalf("telemetry dashboard is not valid JSON")
	}

	b, err = os.ReadFile(filepath.Join(dir, "greencart-runs.json"))
	if err != nil {
		t.Fatalf("read runs dashboard: %v", err)
	}
	if !strings.Contains(string(b), "uid2") {
		t.Fatalf("postgres uid not rendered")
	}
	if !json.Valid(b) {
		t.Fatalf("runs dashboard is not valid JSON")
	}
}
