// Package dashboard renders Grafana dashboards for the telemetry tables and run history.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.json.tmpl
var templateFS embed.FS

var templateFiles = []string{
	"templates/greencart-telemetry.json.tmpl",
	"templates/greencart-runs.json.tmpl",
}

// Tables names the GreptimeDB tables the telemetry dashboard queries.
type Tables struct {
	Telemetry string
	Events    string
	Progress  string
}

// Render parses dashboard templates and writes rendered dashboards to outDir.
// Datasource UIDs are read from GREPTIMEDB_DATASOURCE_UID and POSTGRES_DATASOURCE_UID.
func Render(outDir string, tables Tables) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, tplName := range templateFiles {
		t, err := template.New(filepath.Base(tplName)).Funcs(funcMap).ParseFS(templateFS, tplName)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(tplName), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, tables); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", filepath.Base(tplName), err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
