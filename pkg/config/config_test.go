package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
)

type testConfig struct {
	ServiceName string        `json:"service_name"`
	Interval    time.Duration `json:"interval"`
	Debug       bool          `json:"debug"`
	WatchPaths  []string      `json:"watch_paths"`
	Nested      testNested    `json:"nested"`
	validateErr error
}

type testNested struct {
	DBPath string `json:"db_path"`
}

func (c *testConfig) Validate() error {
	return c.validateErr
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	path := writeConfigFile(t, `{"service_name":"vitals","debug":true,"nested":{"db_path":"/tmp/logs.db"}}`)

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	if err := c.LoadAndValidate(context.Background(), path, &cfg); err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if cfg.ServiceName != "vitals" {
		t.Errorf("expected service_name vitals, got %q", cfg.ServiceName)
	}

	if !cfg.Debug {
		t.Error("expected debug true")
	}

	if cfg.Nested.DBPath != "/tmp/logs.db" {
		t.Errorf("expected nested db_path, got %q", cfg.Nested.DBPath)
	}
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())

	err := c.LoadAndValidate(context.Background(), "/nonexistent/config.json", &cfg)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	path := writeConfigFile(t, `{"service_name":"vitals"}`)

	wantErr := errors.New("bad config")
	cfg := testConfig{validateErr: wantErr}

	c := NewConfig(logger.NewTestLogger())

	err := c.LoadAndValidate(context.Background(), path, &cfg)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected validator error, got %v", err)
	}
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())

	err := c.LoadAndValidate(context.Background(), "ignored.json", &cfg)
	if !errors.Is(err, errInvalidConfigSource) {
		t.Fatalf("expected errInvalidConfigSource, got %v", err)
	}
}

func TestEnvLoaderScalarsAndSlices(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("VITALS_SERVICE_NAME", "vitals-env")
	t.Setenv("VITALS_INTERVAL", "45s")
	t.Setenv("VITALS_DEBUG", "true")
	t.Setenv("VITALS_WATCH_PATHS", "/var/log/a.log, /var/log/b.log")
	t.Setenv("VITALS_NESTED_DB_PATH", "/data/logs.db")

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	if err := c.LoadAndValidate(context.Background(), "", &cfg); err != nil {
		t.Fatalf("LoadAndValidate from env: %v", err)
	}

	if cfg.ServiceName != "vitals-env" {
		t.Errorf("expected service name from env, got %q", cfg.ServiceName)
	}

	if cfg.Interval != 45*time.Second {
		t.Errorf("expected interval 45s, got %v", cfg.Interval)
	}

	if len(cfg.WatchPaths) != 2 || cfg.WatchPaths[1] != "/var/log/b.log" {
		t.Errorf("expected trimmed watch paths, got %v", cfg.WatchPaths)
	}

	if cfg.Nested.DBPath != "/data/logs.db" {
		t.Errorf("expected nested db path from env, got %q", cfg.Nested.DBPath)
	}
}

func TestEnvLoaderConfigJSONTakesPrecedence(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("VITALS_CONFIG_JSON", `{"service_name":"from-json"}`)
	t.Setenv("VITALS_SERVICE_NAME", "from-var")

	var cfg testConfig

	c := NewConfig(logger.NewTestLogger())
	if err := c.LoadAndValidate(context.Background(), "", &cfg); err != nil {
		t.Fatalf("LoadAndValidate from CONFIG_JSON: %v", err)
	}

	if cfg.ServiceName != "from-json" {
		t.Errorf("expected CONFIG_JSON to win, got %q", cfg.ServiceName)
	}
}
